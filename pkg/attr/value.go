package attr

import (
	"bytes"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Type is the attribute type tag carried on the wire.
type Type string

const (
	TypeString    Type = "S"
	TypeNumber    Type = "N"
	TypeBinary    Type = "B"
	TypeBool      Type = "BOOL"
	TypeNull      Type = "NULL"
	TypeList      Type = "L"
	TypeMap       Type = "M"
	TypeStringSet Type = "SS"
	TypeNumberSet Type = "NS"
	TypeBinarySet Type = "BS"
)

// Value is the closed sum over document-store attribute values. The zero
// Value is invalid; build values through the constructors.
type Value struct {
	typ Type
	s   string
	n   decimal.Decimal
	b   []byte
	bl  bool
	l   []Value
	m   map[string]Value
	ss  []string
	ns  []decimal.Decimal
	bs  [][]byte
}

// Item is a document: attribute names to typed values.
type Item map[string]Value

func String(s string) Value  { return Value{typ: TypeString, s: s} }
func Bool(b bool) Value      { return Value{typ: TypeBool, bl: b} }
func Null() Value            { return Value{typ: TypeNull} }
func Binary(b []byte) Value  { return Value{typ: TypeBinary, b: b} }
func List(vs ...Value) Value { return Value{typ: TypeList, l: vs} }
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{typ: TypeMap, m: m}
}

func Number(d decimal.Decimal) Value { return Value{typ: TypeNumber, n: d} }

// NumberFromString parses the wire form of an N value.
func NumberFromString(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Number(d), nil
}

// NumberFromInt is a convenience for tests and defaults.
func NumberFromInt(i int64) Value { return Number(decimal.NewFromInt(i)) }

func StringSet(ss ...string) Value { return Value{typ: TypeStringSet, ss: ss} }

func NumberSet(ns ...decimal.Decimal) Value { return Value{typ: TypeNumberSet, ns: ns} }

func BinarySet(bs ...[]byte) Value { return Value{typ: TypeBinarySet, bs: bs} }

// Type returns the type tag.
func (v Value) Type() Type { return v.typ }

// IsValid reports whether the value was built by a constructor.
func (v Value) IsValid() bool { return v.typ != "" }

// IsNull reports whether the value is the NULL sentinel.
func (v Value) IsNull() bool { return v.typ == TypeNull }

// AsString returns the string payload of an S value.
func (v Value) AsString() (string, bool) { return v.s, v.typ == TypeString }

// AsNumber returns the decimal payload of an N value.
func (v Value) AsNumber() (decimal.Decimal, bool) { return v.n, v.typ == TypeNumber }

// AsBinary returns the payload of a B value.
func (v Value) AsBinary() ([]byte, bool) { return v.b, v.typ == TypeBinary }

// AsBool returns the payload of a BOOL value.
func (v Value) AsBool() (bool, bool) { return v.bl, v.typ == TypeBool }

// AsList returns the elements of an L value.
func (v Value) AsList() ([]Value, bool) { return v.l, v.typ == TypeList }

// AsMap returns the entries of an M value.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.typ == TypeMap }

// AsStringSet returns the members of an SS value.
func (v Value) AsStringSet() ([]string, bool) { return v.ss, v.typ == TypeStringSet }

// AsNumberSet returns the members of an NS value.
func (v Value) AsNumberSet() ([]decimal.Decimal, bool) { return v.ns, v.typ == TypeNumberSet }

// AsBinarySet returns the members of a BS value.
func (v Value) AsBinarySet() ([][]byte, bool) { return v.bs, v.typ == TypeBinarySet }

// IsSet reports whether the value is one of the three set types.
func (v Value) IsSet() bool {
	return v.typ == TypeStringSet || v.typ == TypeNumberSet || v.typ == TypeBinarySet
}

// Size implements the size() expression function: character count for
// strings, element count for lists, maps and sets, byte length for
// binary; 0 otherwise.
func (v Value) Size() int {
	switch v.typ {
	case TypeString:
		return utf8.RuneCountInString(v.s)
	case TypeBinary:
		return len(v.b)
	case TypeList:
		return len(v.l)
	case TypeMap:
		return len(v.m)
	case TypeStringSet:
		return len(v.ss)
	case TypeNumberSet:
		return len(v.ns)
	case TypeBinarySet:
		return len(v.bs)
	default:
		return 0
	}
}

// Equal reports deep equality. Set equality ignores member order.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeString:
		return v.s == other.s
	case TypeNumber:
		return v.n.Equal(other.n)
	case TypeBinary:
		return bytes.Equal(v.b, other.b)
	case TypeBool:
		return v.bl == other.bl
	case TypeNull:
		return true
	case TypeList:
		if len(v.l) != len(other.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(other.l[i]) {
				return false
			}
		}
		return true
	case TypeMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, mv := range v.m {
			ov, ok := other.m[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	case TypeStringSet:
		return stringSetEqual(v.ss, other.ss)
	case TypeNumberSet:
		return numberSetEqual(v.ns, other.ns)
	case TypeBinarySet:
		return binarySetEqual(v.bs, other.bs)
	default:
		return false
	}
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func numberSetEqual(a, b []decimal.Decimal) bool {
	if len(a) != len(b) {
		return false
	}
	as := sortedDecimals(a)
	bs := sortedDecimals(b)
	for i := range as {
		if !as[i].Equal(bs[i]) {
			return false
		}
	}
	return true
}

func sortedDecimals(ds []decimal.Decimal) []decimal.Decimal {
	out := append([]decimal.Decimal(nil), ds...)
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

func binarySetEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	as := sortedBytes(a)
	bs := sortedBytes(b)
	for i := range as {
		if !bytes.Equal(as[i], bs[i]) {
			return false
		}
	}
	return true
}

func sortedBytes(bs [][]byte) [][]byte {
	out := append([][]byte(nil), bs...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// Clone returns a deep copy; mutation helpers in the update applier work
// on clones so snapshots stay isolated.
func (v Value) Clone() Value {
	switch v.typ {
	case TypeBinary:
		return Binary(append([]byte(nil), v.b...))
	case TypeList:
		l := make([]Value, len(v.l))
		for i := range v.l {
			l[i] = v.l[i].Clone()
		}
		return Value{typ: TypeList, l: l}
	case TypeMap:
		m := make(map[string]Value, len(v.m))
		for k, mv := range v.m {
			m[k] = mv.Clone()
		}
		return Value{typ: TypeMap, m: m}
	case TypeStringSet:
		return StringSet(append([]string(nil), v.ss...)...)
	case TypeNumberSet:
		return NumberSet(append([]decimal.Decimal(nil), v.ns...)...)
	case TypeBinarySet:
		bs := make([][]byte, len(v.bs))
		for i := range v.bs {
			bs[i] = append([]byte(nil), v.bs[i]...)
		}
		return BinarySet(bs...)
	default:
		return v
	}
}

// Clone deep-copies an item.
func (i Item) Clone() Item {
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports deep item equality.
func (i Item) Equal(other Item) bool {
	if len(i) != len(other) {
		return false
	}
	for k, v := range i {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
