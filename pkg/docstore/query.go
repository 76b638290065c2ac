package docstore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/docstore/expression"
)

// QueryInput selects items within one partition of a table or GSI.
type QueryInput struct {
	Table            string
	IndexName        string // empty for the primary index
	KeyCondition     string
	FilterExpression string
	Bindings         expression.Bindings
	Limit            int // 0 means no limit
	ScanForward      bool
	StartToken       string // opaque pagination cursor
}

// ScanInput walks a whole table.
type ScanInput struct {
	Table            string
	FilterExpression string
	Bindings         expression.Bindings
	Limit            int
	StartToken       string
}

// Page is one result page with an opaque cursor for the next one.
type Page struct {
	Items        []attr.Item
	NextToken    string
	ScannedCount int
}

// cursor is the decoded form of a pagination token: the row key of the
// last item returned.
type cursor struct {
	LastKey []byte `json:"k"`
}

func encodeToken(lastKey []byte) string {
	raw, _ := json.Marshal(cursor{LastKey: lastKey})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, validationf("invalid pagination token")
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, validationf("invalid pagination token")
	}
	return c.LastKey, nil
}

// afterCursor reports whether key comes after the cursor position in
// the scan direction. Ordering, not equality: the cursor row may have
// been deleted between pages and the next page still resumes past it.
func afterCursor(key, cur []byte, forward bool) bool {
	c := bytes.Compare(key, cur)
	if forward {
		return c > 0
	}
	return c < 0
}

// Query runs a key-condition scan over one partition, applies the
// optional filter, and paginates in sort-key order.
func (s *Store) Query(in QueryInput) (*Page, error) {
	schema, err := s.schema(in.Table)
	if err != nil {
		return nil, err
	}

	partition := schema.PartitionKey
	sortKey := schema.SortKey
	bucket := tableBucket(in.Table)
	viaIndex := false
	if in.IndexName != "" {
		g, ok := schema.index(in.IndexName)
		if !ok {
			return nil, validationf("%s: %s", ErrIndexNotFound, in.IndexName)
		}
		partition = g.PartitionKey
		sortKey = g.SortKey
		bucket = indexBucket(in.Table, in.IndexName)
		viaIndex = true
	}

	condExpr, err := expression.ParseCondition(in.KeyCondition)
	if err != nil {
		return nil, validationf("invalid key condition: %v", err)
	}
	sortAttr := ""
	if sortKey != nil {
		sortAttr = sortKey.Name
	}
	kc, err := expression.AnalyzeKeyCondition(condExpr, in.Bindings, partition.Name, sortAttr)
	if err != nil {
		return nil, validationf("invalid key condition: %v", err)
	}

	var filter expression.Expr
	if in.FilterExpression != "" {
		filter, err = expression.ParseCondition(in.FilterExpression)
		if err != nil {
			return nil, validationf("invalid filter expression: %v", err)
		}
	}

	type row struct {
		key  []byte
		item attr.Item
	}
	var rows []row
	prefix := partitionPrefix(kc.PartitionValue)

	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		base := tx.Bucket(tableBucket(in.Table))
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			raw := v
			if viaIndex {
				// index entries point back at the base row
				raw = base.Get(v)
				if raw == nil {
					continue
				}
			}
			item, err := attr.UnmarshalItem(raw)
			if err != nil {
				return err
			}
			if sortKey != nil {
				if !kc.MatchesSort(item[sortKey.Name]) {
					continue
				}
			}
			rows = append(rows, row{key: append([]byte(nil), k...), item: item})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// order by sort-key value; row-key bytes break ties for index rows
	// pointing at distinct base items
	if sortKey != nil {
		name := sortKey.Name
		sort.SliceStable(rows, func(i, j int) bool {
			if c, ok := attr.Compare(rows[i].item[name], rows[j].item[name]); ok && c != 0 {
				return c < 0
			}
			return string(rows[i].key) < string(rows[j].key)
		})
	} else {
		sort.SliceStable(rows, func(i, j int) bool {
			return string(rows[i].key) < string(rows[j].key)
		})
	}
	if !in.ScanForward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	startAfter, err := decodeToken(in.StartToken)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	var lastKey []byte
	truncated := false
	for _, r := range rows {
		if startAfter != nil && !afterCursor(r.key, startAfter, in.ScanForward) {
			continue
		}
		if in.Limit > 0 && page.ScannedCount >= in.Limit {
			truncated = true
			break
		}
		page.ScannedCount++
		lastKey = r.key
		if filter != nil {
			ok, err := expression.Eval(filter, r.item, in.Bindings)
			if err != nil {
				return nil, validationf("filter evaluation: %v", err)
			}
			if !ok {
				continue
			}
		}
		page.Items = append(page.Items, r.item)
	}
	if truncated && lastKey != nil {
		page.NextToken = encodeToken(lastKey)
	}
	return page, nil
}

// Scan walks the whole table in row-key order, applying the optional
// filter after the read.
func (s *Store) Scan(in ScanInput) (*Page, error) {
	if _, err := s.schema(in.Table); err != nil {
		return nil, err
	}

	var filter expression.Expr
	var err error
	if in.FilterExpression != "" {
		filter, err = expression.ParseCondition(in.FilterExpression)
		if err != nil {
			return nil, validationf("invalid filter expression: %v", err)
		}
	}

	startAfter, err := decodeToken(in.StartToken)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	var lastKey []byte
	truncated := false

	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(in.Table))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		k, v := c.First()
		if startAfter != nil {
			k, v = c.Seek(startAfter)
			if k != nil && string(k) == string(startAfter) {
				k, v = c.Next()
			}
		}
		for ; k != nil; k, v = c.Next() {
			if in.Limit > 0 && page.ScannedCount >= in.Limit {
				truncated = true
				return nil
			}
			item, err := attr.UnmarshalItem(v)
			if err != nil {
				return err
			}
			page.ScannedCount++
			lastKey = append(lastKey[:0], k...)
			if filter != nil {
				ok, err := expression.Eval(filter, item, in.Bindings)
				if err != nil {
					return validationf("filter evaluation: %v", err)
				}
				if !ok {
					continue
				}
			}
			page.Items = append(page.Items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if truncated && lastKey != nil {
		page.NextToken = encodeToken(lastKey)
	}
	return page, nil
}
