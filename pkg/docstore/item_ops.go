package docstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/docstore/expression"
	"github.com/burrowdev/burrow/pkg/fabric"
)

// Condition pairs an optional condition-expression source with its
// name/value bindings.
type Condition struct {
	Expression string
	Bindings   expression.Bindings
}

func (c Condition) empty() bool { return c.Expression == "" }

// check evaluates the condition against the current item (empty item
// when absent). A false result is a ConditionFailedError.
func (c Condition) check(table string, current attr.Item) error {
	if c.empty() {
		return nil
	}
	expr, err := expression.ParseCondition(c.Expression)
	if err != nil {
		return validationf("invalid condition expression: %v", err)
	}
	if current == nil {
		current = attr.Item{}
	}
	ok, err := expression.Eval(expr, current, c.Bindings)
	if err != nil {
		return validationf("condition evaluation: %v", err)
	}
	if !ok {
		return &ConditionFailedError{Table: table}
	}
	return nil
}

// PutItem writes a full item, replacing any existing one. Returns the
// previous item, or nil.
func (s *Store) PutItem(table string, item attr.Item, cond Condition) (attr.Item, error) {
	schema, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	key, err := keyFromItem(item, schema.PartitionKey, schema.SortKey)
	if err != nil {
		return nil, err
	}
	rowKey := encodeKey(key, schema.PartitionKey, schema.SortKey)

	var old attr.Item
	err = s.db.Update(func(tx *bolt.Tx) error {
		old, err = readRow(tx, schema, rowKey)
		if err != nil {
			return err
		}
		if err := cond.check(table, old); err != nil {
			return err
		}
		return writeRow(tx, schema, rowKey, item, old)
	})
	if err != nil {
		return nil, err
	}

	event := fabric.StreamInsert
	if old != nil {
		event = fabric.StreamModify
	}
	s.emitStream(table, event, item, old)
	return old, nil
}

// GetItem reads one item by its full key. Returns nil when absent.
func (s *Store) GetItem(table string, key attr.Item) (attr.Item, error) {
	schema, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	validKey, err := keyFromItem(key, schema.PartitionKey, schema.SortKey)
	if err != nil {
		return nil, err
	}
	rowKey := encodeKey(validKey, schema.PartitionKey, schema.SortKey)

	var item attr.Item
	err = s.db.View(func(tx *bolt.Tx) error {
		item, err = readRow(tx, schema, rowKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteItem removes one item. Returns the previous item, or nil when
// nothing was there.
func (s *Store) DeleteItem(table string, key attr.Item, cond Condition) (attr.Item, error) {
	schema, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	validKey, err := keyFromItem(key, schema.PartitionKey, schema.SortKey)
	if err != nil {
		return nil, err
	}
	rowKey := encodeKey(validKey, schema.PartitionKey, schema.SortKey)

	var old attr.Item
	err = s.db.Update(func(tx *bolt.Tx) error {
		old, err = readRow(tx, schema, rowKey)
		if err != nil {
			return err
		}
		if err := cond.check(table, old); err != nil {
			return err
		}
		if old == nil {
			return nil
		}
		return deleteRow(tx, schema, rowKey, old)
	})
	if err != nil {
		return nil, err
	}

	if old != nil {
		s.emitStream(table, fabric.StreamRemove, nil, old)
	}
	return old, nil
}

// UpdateItem applies an update expression against the current item (or
// an item holding only the key, when absent) and persists the result.
// Returns the new item.
func (s *Store) UpdateItem(table string, key attr.Item, updateExpr string, bindings expression.Bindings, cond Condition) (attr.Item, error) {
	schema, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	validKey, err := keyFromItem(key, schema.PartitionKey, schema.SortKey)
	if err != nil {
		return nil, err
	}
	rowKey := encodeKey(validKey, schema.PartitionKey, schema.SortKey)

	upd, err := expression.ParseUpdate(updateExpr)
	if err != nil {
		return nil, validationf("invalid update expression: %v", err)
	}

	var old, updated attr.Item
	err = s.db.Update(func(tx *bolt.Tx) error {
		old, err = readRow(tx, schema, rowKey)
		if err != nil {
			return err
		}
		if err := cond.check(table, old); err != nil {
			return err
		}

		base := old
		if base == nil {
			base = validKey.Clone()
		}
		updated, err = expression.ApplyUpdate(base, upd, bindings)
		if err != nil {
			return validationf("update evaluation: %v", err)
		}
		// the update must not rewrite key attributes
		if _, kerr := keyFromItem(updated, schema.PartitionKey, schema.SortKey); kerr != nil {
			return validationf("update removed a key attribute")
		}
		for _, name := range schema.KeyAttrNames() {
			if !updated[name].Equal(validKey[name]) {
				return validationf("update must not modify key attribute %s", name)
			}
		}
		return writeRow(tx, schema, rowKey, updated, old)
	})
	if err != nil {
		return nil, err
	}

	event := fabric.StreamInsert
	if old != nil {
		event = fabric.StreamModify
	}
	s.emitStream(table, event, updated, old)
	return updated, nil
}

func readRow(tx *bolt.Tx, schema *TableSchema, rowKey []byte) (attr.Item, error) {
	base := tx.Bucket(tableBucket(schema.Name))
	if base == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, schema.Name)
	}
	raw := base.Get(rowKey)
	if raw == nil {
		return nil, nil
	}
	return attr.UnmarshalItem(raw)
}
