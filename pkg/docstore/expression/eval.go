package expression

import (
	"strings"

	"github.com/burrowdev/burrow/pkg/attr"
)

// Eval evaluates a condition against an item. Evaluation is total over
// items: missing attributes and mistyped comparisons are false, never an
// error. Errors only report unresolved name or value references.
func Eval(expr Expr, item attr.Item, b Bindings) (bool, error) {
	switch e := expr.(type) {
	case *AndExpr:
		for _, term := range e.Terms {
			ok, err := Eval(term, item, b)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case *OrExpr:
		for _, term := range e.Terms {
			ok, err := Eval(term, item, b)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case *NotExpr:
		ok, err := Eval(e.Term, item, b)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case *CompareExpr:
		l, lok, err := evalOperand(e.L, item, b)
		if err != nil {
			return false, err
		}
		r, rok, err := evalOperand(e.R, item, b)
		if err != nil {
			return false, err
		}
		if !lok || !rok {
			return false, nil
		}
		return compareValues(e.Op, l, r), nil

	case *BetweenExpr:
		v, vok, err := evalOperand(e.Operand, item, b)
		if err != nil {
			return false, err
		}
		lo, look, err := evalOperand(e.Lo, item, b)
		if err != nil {
			return false, err
		}
		hi, hiok, err := evalOperand(e.Hi, item, b)
		if err != nil {
			return false, err
		}
		if !vok || !look || !hiok {
			return false, nil
		}
		return compareValues(OpGe, v, lo) && compareValues(OpLe, v, hi), nil

	case *InExpr:
		v, vok, err := evalOperand(e.Operand, item, b)
		if err != nil {
			return false, err
		}
		for _, member := range e.List {
			m, mok, err := evalOperand(member, item, b)
			if err != nil {
				return false, err
			}
			if vok && mok && valuesEqual(v, m) {
				return true, nil
			}
		}
		return false, nil

	case *FuncExpr:
		return evalFunc(e, item, b)
	}

	return false, nil
}

func evalFunc(e *FuncExpr, item attr.Item, b Bindings) (bool, error) {
	switch e.Name {
	case FnAttributeExists, FnAttributeNotExists:
		path := e.Args[0].(*PathOperand).Path
		segs, err := b.resolve(path)
		if err != nil {
			return false, err
		}
		_, found := getPath(item, segs)
		if e.Name == FnAttributeExists {
			return found, nil
		}
		return !found, nil

	case FnBeginsWith:
		v, vok, err := evalOperand(e.Args[0], item, b)
		if err != nil {
			return false, err
		}
		prefix, pok, err := evalOperand(e.Args[1], item, b)
		if err != nil {
			return false, err
		}
		if !vok || !pok {
			return false, nil
		}
		vs, visStr := v.AsString()
		ps, pisStr := prefix.AsString()
		return visStr && pisStr && strings.HasPrefix(vs, ps), nil

	case FnContains:
		v, vok, err := evalOperand(e.Args[0], item, b)
		if err != nil {
			return false, err
		}
		member, mok, err := evalOperand(e.Args[1], item, b)
		if err != nil {
			return false, err
		}
		if !vok || !mok {
			return false, nil
		}
		return v.Contains(member), nil
	}

	return false, syntaxErrorf(e.Pos, "unknown function %q", e.Name)
}

// evalOperand produces a value and whether it was found. size() on a
// missing path is 0, found.
func evalOperand(op Operand, item attr.Item, b Bindings) (attr.Value, bool, error) {
	switch o := op.(type) {
	case *PathOperand:
		segs, err := b.resolve(o.Path)
		if err != nil {
			return attr.Value{}, false, err
		}
		v, found := getPath(item, segs)
		return v, found, nil

	case *ValueRefOperand:
		v, err := b.value(o)
		if err != nil {
			return attr.Value{}, false, err
		}
		return v, true, nil

	case *LiteralOperand:
		return o.Value, true, nil

	case *SizeOperand:
		segs, err := b.resolve(o.Path)
		if err != nil {
			return attr.Value{}, false, err
		}
		v, _ := getPath(item, segs)
		return attr.NumberFromInt(int64(v.Size())), true, nil
	}

	return attr.Value{}, false, nil
}

// valuesEqual is deep equality plus the numeric/string coercion rule.
func valuesEqual(a, b attr.Value) bool {
	if a.Equal(b) {
		return true
	}
	if cmp, ok := attr.Compare(a, b); ok {
		return cmp == 0
	}
	return false
}

func compareValues(op CompareOp, l, r attr.Value) bool {
	switch op {
	case OpEq:
		return valuesEqual(l, r)
	case OpNe:
		return !valuesEqual(l, r)
	}

	cmp, ok := attr.Compare(l, r)
	if !ok {
		return false
	}
	switch op {
	case OpLt:
		return cmp < 0
	case OpGt:
		return cmp > 0
	case OpLe:
		return cmp <= 0
	case OpGe:
		return cmp >= 0
	}
	return false
}
