package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/docstore/expression"
)

func seedOrders(t *testing.T, s *Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := s.PutItem("orders", attr.Item{
			"orderId": attr.String(id),
			"itemId":  attr.String("i1"),
			"status":  attr.String("open"),
		}, Condition{})
		require.NoError(t, err)
	}
}

func orderKey(id string) attr.Item {
	return attr.Item{"orderId": attr.String(id), "itemId": attr.String("i1")}
}

func TestBatchGetSkipsMisses(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateTable(ordersSchema()))
	seedOrders(t, s, "o1", "o2")

	items, err := s.BatchGet([]KeyRequest{
		{Table: "orders", Key: orderKey("o1")},
		{Table: "orders", Key: orderKey("ghost")},
		{Table: "orders", Key: orderKey("o2")},
	})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestBatchWriteMixesPutsAndDeletes(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateTable(ordersSchema()))
	seedOrders(t, s, "o1")

	err := s.BatchWrite([]WriteRequest{
		{Table: "orders", Put: attr.Item{"orderId": attr.String("o2"), "itemId": attr.String("i1")}},
		{Table: "orders", DeleteKey: orderKey("o1")},
	})
	require.NoError(t, err)

	got, err := s.GetItem("orders", orderKey("o1"))
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.GetItem("orders", orderKey("o2"))
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestTransactGetKeepsPositions(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateTable(ordersSchema()))
	seedOrders(t, s, "o1")

	items, err := s.TransactGet([]KeyRequest{
		{Table: "orders", Key: orderKey("ghost")},
		{Table: "orders", Key: orderKey("o1")},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Nil(t, items[0])
	assert.NotNil(t, items[1])
}

func TestTransactWriteCommitsAtomically(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateTable(ordersSchema()))
	seedOrders(t, s, "o1")

	b := expression.Bindings{Values: map[string]attr.Value{":v": attr.String("closed")}}
	err := s.TransactWrite([]TransactItem{
		{Table: "orders", Put: attr.Item{"orderId": attr.String("o2"), "itemId": attr.String("i1")}},
		{Table: "orders", UpdateKey: orderKey("o1"), UpdateExpr: "SET status = :v", Bindings: b},
		{Table: "orders", CheckKey: orderKey("o1"), Condition: Condition{Expression: "attribute_exists(orderId)"}},
	})
	require.NoError(t, err)

	got, err := s.GetItem("orders", orderKey("o1"))
	require.NoError(t, err)
	assert.True(t, got["status"].Equal(attr.String("closed")))
	got, err = s.GetItem("orders", orderKey("o2"))
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestTransactWriteCancelsAllOnOneFailedCondition(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateTable(ordersSchema()))
	seedOrders(t, s, "o1")

	err := s.TransactWrite([]TransactItem{
		{Table: "orders", Put: attr.Item{"orderId": attr.String("o2"), "itemId": attr.String("i1")}},
		{Table: "orders", DeleteKey: orderKey("o1"),
			Condition: Condition{Expression: "attribute_not_exists(orderId)"}},
	})

	var tce *TransactionCanceledError
	require.ErrorAs(t, err, &tce)
	require.Len(t, tce.Reasons, 2)
	assert.Equal(t, "None", tce.Reasons[0].Code)
	assert.Equal(t, "ConditionalCheckFailed", tce.Reasons[1].Code)

	// nothing was written
	got, err := s.GetItem("orders", orderKey("o2"))
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.GetItem("orders", orderKey("o1"))
	require.NoError(t, err)
	assert.NotNil(t, got)
}
