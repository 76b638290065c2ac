package expression

import (
	"strings"

	"github.com/burrowdev/burrow/pkg/attr"
)

// SortOp is the single comparison allowed on the sort key.
type SortOp string

const (
	SortNone       SortOp = ""
	SortEq         SortOp = "="
	SortLt         SortOp = "<"
	SortGt         SortOp = ">"
	SortLe         SortOp = "<="
	SortGe         SortOp = ">="
	SortBetween    SortOp = "BETWEEN"
	SortBeginsWith SortOp = "begins_with"
)

// KeyCondition is the analysed form of a key-condition expression:
// exactly one equality on the partition key and at most one restricted
// comparison on the sort key. It drives the index scan bounds.
type KeyCondition struct {
	PartitionAttr  string
	PartitionValue attr.Value
	SortAttr       string
	SortOp         SortOp
	SortValues     []attr.Value // one value, two for BETWEEN
}

// AnalyzeKeyCondition validates a parsed condition against a table's key
// schema and extracts the scan bounds. sortAttr is empty for tables with
// a partition-only key.
func AnalyzeKeyCondition(expr Expr, b Bindings, partitionAttr, sortAttr string) (*KeyCondition, error) {
	kc := &KeyCondition{PartitionAttr: partitionAttr, SortAttr: sortAttr}

	terms := []Expr{expr}
	if and, ok := expr.(*AndExpr); ok {
		terms = and.Terms
	}
	if len(terms) > 2 {
		return nil, syntaxErrorf(0, "key condition allows at most two terms")
	}

	for _, term := range terms {
		if err := kc.absorb(term, b); err != nil {
			return nil, err
		}
	}

	if !kc.PartitionValue.IsValid() {
		return nil, syntaxErrorf(0, "key condition needs an equality on the partition key %q", partitionAttr)
	}
	return kc, nil
}

func (kc *KeyCondition) absorb(term Expr, b Bindings) error {
	switch e := term.(type) {
	case *CompareExpr:
		name, value, pos, err := keyComparison(e, b)
		if err != nil {
			return err
		}
		if name == kc.PartitionAttr {
			if e.Op != OpEq {
				return syntaxErrorf(pos, "partition key %q only supports equality", name)
			}
			if kc.PartitionValue.IsValid() {
				return syntaxErrorf(pos, "duplicate partition key condition")
			}
			kc.PartitionValue = value
			return nil
		}
		if name == kc.SortAttr && kc.SortAttr != "" {
			if e.Op == OpNe {
				return syntaxErrorf(pos, "sort key %q does not support <>", name)
			}
			return kc.setSort(SortOp(e.Op), pos, value)
		}
		return syntaxErrorf(pos, "attribute %q is not a key", name)

	case *BetweenExpr:
		name, pos, err := keyPathName(e.Operand, b)
		if err != nil {
			return err
		}
		if name != kc.SortAttr || kc.SortAttr == "" {
			return syntaxErrorf(pos, "BETWEEN only applies to the sort key")
		}
		lo, err := keyOperandValue(e.Lo, b)
		if err != nil {
			return err
		}
		hi, err := keyOperandValue(e.Hi, b)
		if err != nil {
			return err
		}
		return kc.setSort(SortBetween, pos, lo, hi)

	case *FuncExpr:
		if e.Name != FnBeginsWith {
			return syntaxErrorf(e.Pos, "function %q is not allowed in a key condition", e.Name)
		}
		name, pos, err := keyPathName(e.Args[0], b)
		if err != nil {
			return err
		}
		if name != kc.SortAttr || kc.SortAttr == "" {
			return syntaxErrorf(pos, "begins_with only applies to the sort key")
		}
		prefix, err := keyOperandValue(e.Args[1], b)
		if err != nil {
			return err
		}
		return kc.setSort(SortBeginsWith, e.Pos, prefix)
	}

	return syntaxErrorf(0, "unsupported key condition term")
}

func (kc *KeyCondition) setSort(op SortOp, pos int, values ...attr.Value) error {
	if kc.SortOp != SortNone {
		return syntaxErrorf(pos, "duplicate sort key condition")
	}
	kc.SortOp = op
	kc.SortValues = values
	return nil
}

// keyComparison extracts (attribute, value) from a comparison whose one
// side is a key path and the other a bound value.
func keyComparison(e *CompareExpr, b Bindings) (string, attr.Value, int, error) {
	name, pos, err := keyPathName(e.L, b)
	if err != nil {
		return "", attr.Value{}, 0, err
	}
	value, err := keyOperandValue(e.R, b)
	if err != nil {
		return "", attr.Value{}, 0, err
	}
	return name, value, pos, nil
}

func keyPathName(op Operand, b Bindings) (string, int, error) {
	p, ok := op.(*PathOperand)
	if !ok {
		return "", 0, syntaxErrorf(0, "key condition operand must be a key attribute")
	}
	segs, err := b.resolve(p.Path)
	if err != nil {
		return "", 0, err
	}
	if len(segs) != 1 || segs[0].IsIndex {
		return "", 0, syntaxErrorf(p.Path.Pos, "key condition paths cannot be nested")
	}
	return segs[0].Name, p.Path.Pos, nil
}

func keyOperandValue(op Operand, b Bindings) (attr.Value, error) {
	switch o := op.(type) {
	case *ValueRefOperand:
		return b.value(o)
	case *LiteralOperand:
		return o.Value, nil
	default:
		return attr.Value{}, syntaxErrorf(0, "key condition values must be literals or value references")
	}
}

// MatchesSort applies the sort condition to one sort-key value.
func (kc *KeyCondition) MatchesSort(v attr.Value) bool {
	switch kc.SortOp {
	case SortNone:
		return true
	case SortBeginsWith:
		s, sok := v.AsString()
		prefix, pok := kc.SortValues[0].AsString()
		return sok && pok && strings.HasPrefix(s, prefix)
	case SortBetween:
		return compareValues(OpGe, v, kc.SortValues[0]) && compareValues(OpLe, v, kc.SortValues[1])
	default:
		return compareValues(CompareOp(kc.SortOp), v, kc.SortValues[0])
	}
}
