package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/docstore"
	"github.com/burrowdev/burrow/pkg/provider"
)

func newDocStoreServer(t *testing.T) (*httptest.Server, *docstore.Store) {
	t.Helper()
	store, err := docstore.Open(filepath.Join(t.TempDir(), "tables.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.CreateTable(docstore.TableSchema{
		Name:         "orders",
		PartitionKey: docstore.KeyAttr{Name: "pk", Type: attr.TypeString},
		SortKey:      &docstore.KeyAttr{Name: "sk", Type: attr.TypeString},
	}))

	table := NewTable()
	BindDocStore(table, store)
	srv := httptest.NewServer(TypedJSONHandler(table, provider.ServiceDocStore))
	t.Cleanup(srv.Close)
	return srv, store
}

func docStoreCall(t *testing.T, srv *httptest.Server, action, body string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("X-Amz-Target", "DynamoDB_20120810."+action)
	req.Header.Set("Content-Type", typedJSONContentType)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestDocStorePutGetDelete(t *testing.T) {
	srv, _ := newDocStoreServer(t)

	resp, _ := docStoreCall(t, srv, "PutItem", `{
		"TableName": "orders",
		"Item": {"pk": {"S": "user#1"}, "sk": {"S": "order#1"}, "total": {"N": "42.50"}}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := docStoreCall(t, srv, "GetItem", `{
		"TableName": "orders",
		"Key": {"pk": {"S": "user#1"}, "sk": {"S": "order#1"}}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	item, err := attr.UnmarshalItem(out["Item"])
	require.NoError(t, err)
	pk, _ := item["pk"].AsString()
	assert.Equal(t, "user#1", pk)
	total, _ := item["total"].AsNumber()
	assert.Equal(t, "42.5", total.String())

	resp, _ = docStoreCall(t, srv, "DeleteItem", `{
		"TableName": "orders",
		"Key": {"pk": {"S": "user#1"}, "sk": {"S": "order#1"}}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, out = docStoreCall(t, srv, "GetItem", `{
		"TableName": "orders",
		"Key": {"pk": {"S": "user#1"}, "sk": {"S": "order#1"}}
	}`)
	assert.NotContains(t, out, "Item")
}

func TestDocStoreUpdateItem(t *testing.T) {
	srv, _ := newDocStoreServer(t)

	docStoreCall(t, srv, "PutItem", `{
		"TableName": "orders",
		"Item": {"pk": {"S": "u"}, "sk": {"S": "o"}, "qty": {"N": "1"}}
	}`)

	resp, out := docStoreCall(t, srv, "UpdateItem", `{
		"TableName": "orders",
		"Key": {"pk": {"S": "u"}, "sk": {"S": "o"}},
		"UpdateExpression": "SET qty = qty + :inc",
		"ExpressionAttributeValues": {":inc": {"N": "2"}},
		"ReturnValues": "ALL_NEW"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	item, err := attr.UnmarshalItem(out["Attributes"])
	require.NoError(t, err)
	qty, _ := item["qty"].AsNumber()
	assert.Equal(t, "3", qty.String())
}

func TestDocStoreQuery(t *testing.T) {
	srv, _ := newDocStoreServer(t)

	for _, sk := range []string{"a", "b", "c"} {
		docStoreCall(t, srv, "PutItem", `{
			"TableName": "orders",
			"Item": {"pk": {"S": "u"}, "sk": {"S": "`+sk+`"}}
		}`)
	}

	resp, out := docStoreCall(t, srv, "Query", `{
		"TableName": "orders",
		"KeyConditionExpression": "pk = :p AND sk < :s",
		"ExpressionAttributeValues": {":p": {"S": "u"}, ":s": {"S": "c"}}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var count int
	require.NoError(t, json.Unmarshal(out["Count"], &count))
	assert.Equal(t, 2, count)
}

func TestDocStoreErrorCodes(t *testing.T) {
	srv, _ := newDocStoreServer(t)

	t.Run("missing table", func(t *testing.T) {
		resp, out := docStoreCall(t, srv, "GetItem", `{"TableName": "ghost", "Key": {"pk": {"S": "x"}}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, `"ResourceNotFoundException"`, string(out["__type"]))
	})

	t.Run("failed condition", func(t *testing.T) {
		docStoreCall(t, srv, "PutItem", `{
			"TableName": "orders",
			"Item": {"pk": {"S": "u"}, "sk": {"S": "o"}}
		}`)
		resp, out := docStoreCall(t, srv, "PutItem", `{
			"TableName": "orders",
			"Item": {"pk": {"S": "u"}, "sk": {"S": "o"}},
			"ConditionExpression": "attribute_not_exists(pk)"
		}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, `"ConditionalCheckFailedException"`, string(out["__type"]))
	})
}

func TestDocStoreTableAdmin(t *testing.T) {
	srv, _ := newDocStoreServer(t)

	resp, out := docStoreCall(t, srv, "ListTables", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var names []string
	require.NoError(t, json.Unmarshal(out["TableNames"], &names))
	assert.Equal(t, []string{"orders"}, names)

	resp, out = docStoreCall(t, srv, "DescribeTable", `{"TableName": "orders"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var schema docstore.TableSchema
	require.NoError(t, json.Unmarshal(out["Table"], &schema))
	assert.Equal(t, "pk", schema.PartitionKey.Name)
}
