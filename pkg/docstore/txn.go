package docstore

import (
	"errors"

	bolt "go.etcd.io/bbolt"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/docstore/expression"
	"github.com/burrowdev/burrow/pkg/fabric"
)

// KeyRequest addresses one item.
type KeyRequest struct {
	Table string
	Key   attr.Item
}

// BatchGet looks up every key and returns only the items that exist, in
// request order. Misses are silently absent.
func (s *Store) BatchGet(reqs []KeyRequest) ([]attr.Item, error) {
	var out []attr.Item
	for _, r := range reqs {
		item, err := s.GetItem(r.Table, r.Key)
		if err != nil {
			return nil, err
		}
		if item != nil {
			out = append(out, item)
		}
	}
	return out, nil
}

// WriteRequest is one element of a batch write: exactly one of Put or
// DeleteKey is set.
type WriteRequest struct {
	Table     string
	Put       attr.Item
	DeleteKey attr.Item
}

// BatchWrite applies puts and deletes sequentially. There is no
// atomicity across items; the first failure stops processing.
func (s *Store) BatchWrite(reqs []WriteRequest) error {
	for _, r := range reqs {
		switch {
		case r.Put != nil:
			if _, err := s.PutItem(r.Table, r.Put, Condition{}); err != nil {
				return err
			}
		case r.DeleteKey != nil:
			if _, err := s.DeleteItem(r.Table, r.DeleteKey, Condition{}); err != nil {
				return err
			}
		default:
			return validationf("write request needs a put item or a delete key")
		}
	}
	return nil
}

// TransactGet reads every key; any error fails the whole call. Missing
// items come back as nil entries to preserve positions.
func (s *Store) TransactGet(reqs []KeyRequest) ([]attr.Item, error) {
	out := make([]attr.Item, len(reqs))
	for i, r := range reqs {
		item, err := s.GetItem(r.Table, r.Key)
		if err != nil {
			return nil, err
		}
		out[i] = item
	}
	return out, nil
}

// TransactItem is one action in a transactional write: exactly one of
// Put, Update, Delete, or ConditionCheck semantics applies.
type TransactItem struct {
	Table string

	Put        attr.Item // full item to write
	UpdateKey  attr.Item // key for an update
	UpdateExpr string
	DeleteKey  attr.Item // key for a delete
	CheckKey   attr.Item // key for a pure condition check

	Condition Condition
	Bindings  expression.Bindings // update-expression bindings
}

type plannedWrite struct {
	schema   *TableSchema
	rowKey   []byte
	old      attr.Item
	newItem  attr.Item // nil for deletes and checks
	isDelete bool
}

// TransactWrite evaluates every condition against a snapshot first; if
// any fails, nothing is written and the error carries one reason per
// item. Otherwise all writes commit in one storage transaction.
func (s *Store) TransactWrite(items []TransactItem) error {
	reasons := make([]CancellationReason, len(items))
	for i := range reasons {
		reasons[i] = CancellationReason{Code: "None"}
	}

	plans := make([]plannedWrite, len(items))
	cancelled := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		for i, it := range items {
			plan, reason := s.planTransactItem(tx, it)
			if reason != nil {
				reasons[i] = *reason
				cancelled = true
				continue
			}
			plans[i] = plan
		}
		if cancelled {
			return &TransactionCanceledError{Reasons: reasons}
		}

		for _, p := range plans {
			if p.schema == nil {
				continue // pure condition check
			}
			if p.isDelete {
				if p.old == nil {
					continue
				}
				if err := deleteRow(tx, p.schema, p.rowKey, p.old); err != nil {
					return err
				}
				continue
			}
			if err := writeRow(tx, p.schema, p.rowKey, p.newItem, p.old); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, p := range plans {
		if p.schema == nil {
			continue
		}
		switch {
		case p.isDelete:
			if p.old != nil {
				s.emitStream(p.schema.Name, fabric.StreamRemove, nil, p.old)
			}
		case p.old != nil:
			s.emitStream(p.schema.Name, fabric.StreamModify, p.newItem, p.old)
		default:
			s.emitStream(p.schema.Name, fabric.StreamInsert, p.newItem, nil)
		}
	}
	return nil
}

// planTransactItem resolves one action against the snapshot inside the
// transaction: reads the current item, checks the condition, and stages
// the write. A non-nil reason cancels the transaction.
func (s *Store) planTransactItem(tx *bolt.Tx, it TransactItem) (plannedWrite, *CancellationReason) {
	fail := func(code, msg string) (plannedWrite, *CancellationReason) {
		return plannedWrite{}, &CancellationReason{Code: code, Message: msg}
	}

	schema, err := s.schema(it.Table)
	if err != nil {
		return fail("ValidationError", err.Error())
	}

	var key attr.Item
	var newItem attr.Item
	isDelete := false
	isCheck := false

	switch {
	case it.Put != nil:
		key, err = keyFromItem(it.Put, schema.PartitionKey, schema.SortKey)
		newItem = it.Put
	case it.UpdateKey != nil:
		key, err = keyFromItem(it.UpdateKey, schema.PartitionKey, schema.SortKey)
	case it.DeleteKey != nil:
		key, err = keyFromItem(it.DeleteKey, schema.PartitionKey, schema.SortKey)
		isDelete = true
	case it.CheckKey != nil:
		key, err = keyFromItem(it.CheckKey, schema.PartitionKey, schema.SortKey)
		isCheck = true
	default:
		return fail("ValidationError", "transact item needs a put, update, delete, or condition check")
	}
	if err != nil {
		return fail("ValidationError", err.Error())
	}

	rowKey := encodeKey(key, schema.PartitionKey, schema.SortKey)
	old, err := readRow(tx, schema, rowKey)
	if err != nil {
		return fail("ValidationError", err.Error())
	}

	if err := it.Condition.check(it.Table, old); err != nil {
		var cf *ConditionFailedError
		if errors.As(err, &cf) {
			return fail("ConditionalCheckFailed", err.Error())
		}
		return fail("ValidationError", err.Error())
	}

	if isCheck {
		return plannedWrite{}, nil
	}

	if it.UpdateKey != nil {
		upd, err := expression.ParseUpdate(it.UpdateExpr)
		if err != nil {
			return fail("ValidationError", err.Error())
		}
		base := old
		if base == nil {
			base = key.Clone()
		}
		newItem, err = expression.ApplyUpdate(base, upd, it.Bindings)
		if err != nil {
			return fail("ValidationError", err.Error())
		}
	}

	return plannedWrite{
		schema:   schema,
		rowKey:   rowKey,
		old:      old,
		newItem:  newItem,
		isDelete: isDelete,
	}, nil
}
