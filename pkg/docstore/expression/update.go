package expression

import (
	"github.com/burrowdev/burrow/pkg/attr"
)

// ApplyUpdate applies a parsed update expression to an item and returns
// the updated copy. Clauses run SET → REMOVE → ADD → DELETE against one
// snapshot; the caller persists the result atomically. The input item is
// never mutated.
func ApplyUpdate(item attr.Item, upd *UpdateExpression, b Bindings) (attr.Item, error) {
	snapshot := item.Clone()

	for _, action := range upd.Set {
		segs, err := b.resolve(action.Path)
		if err != nil {
			return nil, err
		}
		value, err := evalValueExpr(action.Value, snapshot, b)
		if err != nil {
			return nil, err
		}
		if err := setPath(snapshot, segs, value); err != nil {
			return nil, err
		}
	}

	for _, path := range upd.Remove {
		segs, err := b.resolve(path)
		if err != nil {
			return nil, err
		}
		removePath(snapshot, segs)
	}

	for _, action := range upd.Add {
		if err := applyAdd(snapshot, action, b); err != nil {
			return nil, err
		}
	}

	for _, action := range upd.Delete {
		if err := applyDelete(snapshot, action, b); err != nil {
			return nil, err
		}
	}

	return snapshot, nil
}

func evalValueExpr(ve ValueExpr, item attr.Item, b Bindings) (attr.Value, error) {
	switch v := ve.(type) {
	case *OperandValue:
		value, found, err := evalOperand(v.Operand, item, b)
		if err != nil {
			return attr.Value{}, err
		}
		if !found {
			if p, ok := v.Operand.(*PathOperand); ok {
				return attr.Value{}, syntaxErrorf(p.Path.Pos, "update operand path does not resolve")
			}
			return attr.Value{}, syntaxErrorf(0, "update operand does not resolve")
		}
		return value, nil

	case *ArithValue:
		l, err := evalValueExpr(v.L, item, b)
		if err != nil {
			return attr.Value{}, err
		}
		r, err := evalValueExpr(v.R, item, b)
		if err != nil {
			return attr.Value{}, err
		}
		ln, lok := l.Numeric()
		rn, rok := r.Numeric()
		if !lok || !rok {
			return attr.Value{}, syntaxErrorf(v.Pos, "arithmetic needs numeric operands")
		}
		if v.Op == '+' {
			return attr.Number(ln.Add(rn)), nil
		}
		return attr.Number(ln.Sub(rn)), nil

	case *IfNotExistsValue:
		segs, err := b.resolve(v.Path)
		if err != nil {
			return attr.Value{}, err
		}
		if current, found := getPath(item, segs); found {
			return current, nil
		}
		return evalValueExpr(v.Default, item, b)

	case *ListAppendValue:
		a, err := evalValueExpr(v.A, item, b)
		if err != nil {
			return attr.Value{}, err
		}
		bv, err := evalValueExpr(v.B, item, b)
		if err != nil {
			return attr.Value{}, err
		}
		return attr.List(append(asList(a), asList(bv)...)...), nil
	}

	return attr.Value{}, syntaxErrorf(0, "invalid update value expression")
}

// asList coerces list_append arguments: lists pass through, nulls become
// empty lists, scalars wrap into single-element lists.
func asList(v attr.Value) []attr.Value {
	if l, ok := v.AsList(); ok {
		return l
	}
	if v.IsNull() {
		return nil
	}
	return []attr.Value{v}
}

func applyAdd(item attr.Item, action AddAction, b Bindings) error {
	segs, err := b.resolve(action.Path)
	if err != nil {
		return err
	}
	operand, found, err := evalOperand(action.Value, item, b)
	if err != nil {
		return err
	}
	if !found {
		return syntaxErrorf(action.Path.Pos, "ADD operand does not resolve")
	}

	current, exists := getPath(item, segs)

	switch {
	case operand.Type() == attr.TypeNumber:
		if !exists {
			return setPath(item, segs, operand)
		}
		cn, cok := current.Numeric()
		on, _ := operand.Numeric()
		if !cok {
			return syntaxErrorf(action.Path.Pos, "ADD on a non-numeric attribute")
		}
		return setPath(item, segs, attr.Number(cn.Add(on)))

	case operand.IsSet():
		if !exists {
			return setPath(item, segs, operand)
		}
		union, ok := attr.SetUnion(current, operand)
		if !ok {
			return syntaxErrorf(action.Path.Pos, "ADD set type mismatch")
		}
		return setPath(item, segs, union)
	}

	return syntaxErrorf(action.Path.Pos, "ADD needs a number or set operand")
}

func applyDelete(item attr.Item, action DeleteAction, b Bindings) error {
	segs, err := b.resolve(action.Path)
	if err != nil {
		return err
	}
	operand, found, err := evalOperand(action.Value, item, b)
	if err != nil {
		return err
	}
	if !found || !operand.IsSet() {
		return nil
	}

	current, exists := getPath(item, segs)
	if !exists || !current.IsSet() {
		return nil
	}

	diff, ok := attr.SetDifference(current, operand)
	if !ok {
		return nil
	}
	if diff.Size() == 0 {
		removePath(item, segs)
		return nil
	}
	return setPath(item, segs, diff)
}
