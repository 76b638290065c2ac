package attr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// MarshalJSON writes the typed wire shape: {"S":"text"}, {"N":"42"},
// {"BOOL":true}, {"L":[...]}, {"M":{...}}, {"SS":[...]}, {"NS":[...]},
// {"BS":[...]}, {"NULL":true}. Numbers travel as strings, binary as
// base64.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeString:
		return json.Marshal(map[string]string{"S": v.s})
	case TypeNumber:
		return json.Marshal(map[string]string{"N": v.n.String()})
	case TypeBinary:
		return json.Marshal(map[string]string{"B": base64.StdEncoding.EncodeToString(v.b)})
	case TypeBool:
		return json.Marshal(map[string]bool{"BOOL": v.bl})
	case TypeNull:
		return json.Marshal(map[string]bool{"NULL": true})
	case TypeList:
		return json.Marshal(map[string][]Value{"L": v.l})
	case TypeMap:
		return json.Marshal(map[string]map[string]Value{"M": v.m})
	case TypeStringSet:
		return json.Marshal(map[string][]string{"SS": v.ss})
	case TypeNumberSet:
		ns := make([]string, len(v.ns))
		for i, d := range v.ns {
			ns[i] = d.String()
		}
		return json.Marshal(map[string][]string{"NS": ns})
	case TypeBinarySet:
		bs := make([]string, len(v.bs))
		for i, b := range v.bs {
			bs[i] = base64.StdEncoding.EncodeToString(b)
		}
		return json.Marshal(map[string][]string{"BS": bs})
	default:
		return nil, fmt.Errorf("cannot marshal invalid attribute value")
	}
}

// UnmarshalJSON parses the typed wire shape. Exactly one type tag is
// required.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid attribute value: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("attribute value needs exactly one type tag, got %d", len(raw))
	}

	for tag, payload := range raw {
		switch Type(tag) {
		case TypeString:
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return fmt.Errorf("invalid S value: %w", err)
			}
			*v = String(s)
		case TypeNumber:
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return fmt.Errorf("invalid N value: %w", err)
			}
			n, err := NumberFromString(s)
			if err != nil {
				return err
			}
			*v = n
		case TypeBinary:
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return fmt.Errorf("invalid B value: %w", err)
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return fmt.Errorf("invalid B value: %w", err)
			}
			*v = Binary(b)
		case TypeBool:
			var b bool
			if err := json.Unmarshal(payload, &b); err != nil {
				return fmt.Errorf("invalid BOOL value: %w", err)
			}
			*v = Bool(b)
		case TypeNull:
			*v = Null()
		case TypeList:
			var l []Value
			if err := json.Unmarshal(payload, &l); err != nil {
				return fmt.Errorf("invalid L value: %w", err)
			}
			*v = List(l...)
		case TypeMap:
			var m map[string]Value
			if err := json.Unmarshal(payload, &m); err != nil {
				return fmt.Errorf("invalid M value: %w", err)
			}
			*v = Map(m)
		case TypeStringSet:
			var ss []string
			if err := json.Unmarshal(payload, &ss); err != nil {
				return fmt.Errorf("invalid SS value: %w", err)
			}
			*v = StringSet(ss...)
		case TypeNumberSet:
			var raw []string
			if err := json.Unmarshal(payload, &raw); err != nil {
				return fmt.Errorf("invalid NS value: %w", err)
			}
			ns := make([]decimal.Decimal, len(raw))
			for i, s := range raw {
				d, err := decimal.NewFromString(s)
				if err != nil {
					return fmt.Errorf("invalid NS member %q: %w", s, err)
				}
				ns[i] = d
			}
			*v = NumberSet(ns...)
		case TypeBinarySet:
			var raw []string
			if err := json.Unmarshal(payload, &raw); err != nil {
				return fmt.Errorf("invalid BS value: %w", err)
			}
			bs := make([][]byte, len(raw))
			for i, s := range raw {
				b, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return fmt.Errorf("invalid BS member: %w", err)
				}
				bs[i] = b
			}
			*v = BinarySet(bs...)
		default:
			return fmt.Errorf("unknown attribute type tag %q", tag)
		}
	}
	return nil
}

// MarshalItem encodes an item into its typed wire JSON.
func MarshalItem(item Item) ([]byte, error) {
	return json.Marshal(item)
}

// UnmarshalItem decodes typed wire JSON into an item.
func UnmarshalItem(data []byte) (Item, error) {
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return item, nil
}
