package attr

import (
	"bytes"
	"strings"

	"github.com/shopspring/decimal"
)

// Numeric returns the value as a decimal, coercing a string whose content
// is a valid number. This is the only cross-type coercion the evaluator
// performs.
func (v Value) Numeric() (decimal.Decimal, bool) {
	switch v.typ {
	case TypeNumber:
		return v.n, true
	case TypeString:
		d, err := decimal.NewFromString(v.s)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

// Compare orders two values: -1, 0 or 1. The second return is false when
// the pair is not comparable, which callers must treat as a false
// comparison, never an error.
//
// Same-type ordering covers S (lexicographic), N (decimal) and B (byte
// order). The one mixed-type case is numeric against its stringified
// form, which coerces to numeric.
func Compare(a, b Value) (int, bool) {
	if a.typ == b.typ {
		switch a.typ {
		case TypeString:
			return strings.Compare(a.s, b.s), true
		case TypeNumber:
			return a.n.Cmp(b.n), true
		case TypeBinary:
			return bytes.Compare(a.b, b.b), true
		default:
			return 0, false
		}
	}

	if a.typ == TypeNumber || b.typ == TypeNumber {
		an, aok := a.Numeric()
		bn, bok := b.Numeric()
		if aok && bok {
			return an.Cmp(bn), true
		}
	}
	return 0, false
}

// Contains implements the contains() expression function: substring on
// strings, membership on lists and sets, false for everything else.
func (v Value) Contains(member Value) bool {
	switch v.typ {
	case TypeString:
		s, ok := member.AsString()
		return ok && strings.Contains(v.s, s)
	case TypeList:
		for _, el := range v.l {
			if el.Equal(member) {
				return true
			}
		}
		return false
	case TypeStringSet:
		s, ok := member.AsString()
		if !ok {
			return false
		}
		for _, el := range v.ss {
			if el == s {
				return true
			}
		}
		return false
	case TypeNumberSet:
		d, ok := member.AsNumber()
		if !ok {
			return false
		}
		for _, el := range v.ns {
			if el.Equal(d) {
				return true
			}
		}
		return false
	case TypeBinarySet:
		b, ok := member.AsBinary()
		if !ok {
			return false
		}
		for _, el := range v.bs {
			if bytes.Equal(el, b) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// SetUnion returns the union of two sets of the same type. Used by the
// ADD update action.
func SetUnion(a, b Value) (Value, bool) {
	if a.typ != b.typ {
		return Value{}, false
	}
	switch a.typ {
	case TypeStringSet:
		out := append([]string(nil), a.ss...)
		for _, m := range b.ss {
			if !String(m).memberOf(out) {
				out = append(out, m)
			}
		}
		return StringSet(out...), true
	case TypeNumberSet:
		out := append([]decimal.Decimal(nil), a.ns...)
		for _, m := range b.ns {
			if !NumberSet(out...).Contains(Number(m)) {
				out = append(out, m)
			}
		}
		return NumberSet(out...), true
	case TypeBinarySet:
		out := append([][]byte(nil), a.bs...)
		for _, m := range b.bs {
			if !BinarySet(out...).Contains(Binary(m)) {
				out = append(out, m)
			}
		}
		return BinarySet(out...), true
	default:
		return Value{}, false
	}
}

func (v Value) memberOf(set []string) bool {
	for _, m := range set {
		if m == v.s {
			return true
		}
	}
	return false
}

// SetDifference removes b's members from a. Used by the DELETE update
// action.
func SetDifference(a, b Value) (Value, bool) {
	if a.typ != b.typ {
		return Value{}, false
	}
	switch a.typ {
	case TypeStringSet:
		var out []string
		for _, m := range a.ss {
			if !b.Contains(String(m)) {
				out = append(out, m)
			}
		}
		return StringSet(out...), true
	case TypeNumberSet:
		var out []decimal.Decimal
		for _, m := range a.ns {
			if !b.Contains(Number(m)) {
				out = append(out, m)
			}
		}
		return NumberSet(out...), true
	case TypeBinarySet:
		var out [][]byte
		for _, m := range a.bs {
			if !b.Contains(Binary(m)) {
				out = append(out, m)
			}
		}
		return BinarySet(out...), true
	default:
		return Value{}, false
	}
}
