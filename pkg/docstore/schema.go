package docstore

import (
	"bytes"
	"fmt"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/fabric"
)

// KeyAttr names one key attribute and its required type (S, N, or B).
type KeyAttr struct {
	Name string    `json:"name"`
	Type attr.Type `json:"type"`
}

// GSISchema describes one global secondary index: its own composite key
// over the base table's items.
type GSISchema struct {
	Name         string   `json:"name"`
	PartitionKey KeyAttr  `json:"partitionKey"`
	SortKey      *KeyAttr `json:"sortKey,omitempty"`
}

// StreamSchema pins a table's change-stream configuration.
type StreamSchema struct {
	ViewType fabric.StreamViewType `json:"viewType"`
	WindowMS int                   `json:"windowMs"`
}

// TableSchema is the durable definition of one table.
type TableSchema struct {
	Name         string        `json:"name"`
	PartitionKey KeyAttr       `json:"partitionKey"`
	SortKey      *KeyAttr      `json:"sortKey,omitempty"`
	GSIs         []GSISchema   `json:"gsis,omitempty"`
	Stream       *StreamSchema `json:"stream,omitempty"`
}

// Validate checks structural soundness at create time.
func (s *TableSchema) Validate() error {
	if s.Name == "" {
		return validationf("table name is required")
	}
	if err := validateKeyAttr(s.PartitionKey); err != nil {
		return fmt.Errorf("table %s partition key: %w", s.Name, err)
	}
	if s.SortKey != nil {
		if err := validateKeyAttr(*s.SortKey); err != nil {
			return fmt.Errorf("table %s sort key: %w", s.Name, err)
		}
	}
	seen := map[string]bool{}
	for _, g := range s.GSIs {
		if g.Name == "" {
			return validationf("table %s: index name is required", s.Name)
		}
		if seen[g.Name] {
			return validationf("table %s: duplicate index %s", s.Name, g.Name)
		}
		seen[g.Name] = true
		if err := validateKeyAttr(g.PartitionKey); err != nil {
			return fmt.Errorf("index %s partition key: %w", g.Name, err)
		}
		if g.SortKey != nil {
			if err := validateKeyAttr(*g.SortKey); err != nil {
				return fmt.Errorf("index %s sort key: %w", g.Name, err)
			}
		}
	}
	return nil
}

func validateKeyAttr(k KeyAttr) error {
	if k.Name == "" {
		return validationf("attribute name is required")
	}
	switch k.Type {
	case attr.TypeString, attr.TypeNumber, attr.TypeBinary:
		return nil
	default:
		return validationf("key attribute %s: type must be S, N, or B", k.Name)
	}
}

// KeyAttrNames lists the base key attributes, partition first.
func (s *TableSchema) KeyAttrNames() []string {
	names := []string{s.PartitionKey.Name}
	if s.SortKey != nil {
		names = append(names, s.SortKey.Name)
	}
	return names
}

func (s *TableSchema) index(name string) (*GSISchema, bool) {
	for i := range s.GSIs {
		if s.GSIs[i].Name == name {
			return &s.GSIs[i], true
		}
	}
	return nil, false
}

// keyFromItem extracts and type-checks the composite key defined by
// (partition, sort) from an item. sort may be nil.
func keyFromItem(item attr.Item, partition KeyAttr, sort *KeyAttr) (attr.Item, error) {
	key := attr.Item{}
	pv, ok := item[partition.Name]
	if !ok {
		return nil, validationf("missing key attribute %s", partition.Name)
	}
	if pv.Type() != partition.Type {
		return nil, validationf("key attribute %s: expected type %s, got %s", partition.Name, partition.Type, pv.Type())
	}
	key[partition.Name] = pv
	if sort != nil {
		sv, ok := item[sort.Name]
		if !ok {
			return nil, validationf("missing key attribute %s", sort.Name)
		}
		if sv.Type() != sort.Type {
			return nil, validationf("key attribute %s: expected type %s, got %s", sort.Name, sort.Type, sv.Type())
		}
		key[sort.Name] = sv
	}
	return key, nil
}

// indexKeyFromItem is like keyFromItem but tolerant: items lacking the
// index key attributes are simply absent from that index.
func indexKeyFromItem(item attr.Item, g GSISchema) (attr.Item, bool) {
	key := attr.Item{}
	pv, ok := item[g.PartitionKey.Name]
	if !ok || pv.Type() != g.PartitionKey.Type {
		return nil, false
	}
	key[g.PartitionKey.Name] = pv
	if g.SortKey != nil {
		sv, ok := item[g.SortKey.Name]
		if !ok || sv.Type() != g.SortKey.Type {
			return nil, false
		}
		key[g.SortKey.Name] = sv
	}
	return key, true
}

// encodeScalar renders one key attribute value as bytes. The encoding
// only needs equality and prefix semantics; range ordering is resolved
// in memory after the partition scan.
func encodeScalar(v attr.Value) []byte {
	switch v.Type() {
	case attr.TypeString:
		s, _ := v.AsString()
		return append([]byte{'S'}, s...)
	case attr.TypeNumber:
		n, _ := v.AsNumber()
		return append([]byte{'N'}, n.String()...)
	case attr.TypeBinary:
		b, _ := v.AsBinary()
		return append([]byte{'B'}, b...)
	}
	return nil
}

// keySep separates the partition component from the sort component in a
// stored row key. 0x00 never appears in the type tag and makes the
// partition prefix unambiguous.
const keySep = 0x00

// encodeKey renders a composite key as the row key bytes.
func encodeKey(key attr.Item, partition KeyAttr, sort *KeyAttr) []byte {
	out := encodeScalar(key[partition.Name])
	out = append(out, keySep)
	if sort != nil {
		out = append(out, encodeScalar(key[sort.Name])...)
	}
	return out
}

// partitionPrefix is the row-key prefix shared by every item in one
// partition.
func partitionPrefix(pv attr.Value) []byte {
	return append(encodeScalar(pv), keySep)
}

func hasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}
