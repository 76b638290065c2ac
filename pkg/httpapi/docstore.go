package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/docstore"
	"github.com/burrowdev/burrow/pkg/docstore/expression"
	"github.com/burrowdev/burrow/pkg/provider"
)

// DocStoreBinding registers the document-store actions on a table.
// Typed JSON 1.0 is the only dialect this service speaks.
type DocStoreBinding struct {
	store *docstore.Store
}

// BindDocStore wires the document-store actions into the table.
func BindDocStore(t *Table, store *docstore.Store) {
	b := &DocStoreBinding{store: store}
	svc := provider.ServiceDocStore
	t.Register(svc, "PutItem", b.putItem)
	t.Register(svc, "GetItem", b.getItem)
	t.Register(svc, "DeleteItem", b.deleteItem)
	t.Register(svc, "UpdateItem", b.updateItem)
	t.Register(svc, "Query", b.query)
	t.Register(svc, "Scan", b.scan)
	t.Register(svc, "ListTables", b.listTables)
	t.Register(svc, "DescribeTable", b.describeTable)
}

// docStoreError maps store sentinels to dialect codes.
func docStoreError(err error) error {
	var (
		validation *docstore.ValidationError
		condFailed *docstore.ConditionFailedError
		txnCancel  *docstore.TransactionCanceledError
	)
	switch {
	case errors.Is(err, docstore.ErrTableNotFound):
		return apiErrorf(http.StatusBadRequest, "ResourceNotFoundException", "%v", err)
	case errors.Is(err, docstore.ErrIndexNotFound):
		return apiErrorf(http.StatusBadRequest, "ValidationException", "%v", err)
	case errors.As(err, &condFailed):
		return apiErrorf(http.StatusBadRequest, "ConditionalCheckFailedException", "%v", err)
	case errors.As(err, &txnCancel):
		return apiErrorf(http.StatusBadRequest, "TransactionCanceledException", "%v", err)
	case errors.As(err, &validation):
		return apiErrorf(http.StatusBadRequest, "ValidationException", "%v", err)
	default:
		return err
	}
}

func bindingsFrom(names map[string]string, values attr.Item) expression.Bindings {
	return expression.Bindings{Names: names, Values: values}
}

func (b *DocStoreBinding) putItem(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		TableName                 string            `json:"TableName"`
		Item                      attr.Item         `json:"Item"`
		ConditionExpression       string            `json:"ConditionExpression"`
		ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
		ExpressionAttributeValues attr.Item         `json:"ExpressionAttributeValues"`
		ReturnValues              string            `json:"ReturnValues"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	old, err := b.store.PutItem(in.TableName, in.Item, docstore.Condition{
		Expression: in.ConditionExpression,
		Bindings:   bindingsFrom(in.ExpressionAttributeNames, in.ExpressionAttributeValues),
	})
	if err != nil {
		return nil, docStoreError(err)
	}

	out := map[string]any{}
	if in.ReturnValues == "ALL_OLD" && old != nil {
		out["Attributes"] = old
	}
	return out, nil
}

func (b *DocStoreBinding) getItem(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		TableName string    `json:"TableName"`
		Key       attr.Item `json:"Key"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	item, err := b.store.GetItem(in.TableName, in.Key)
	if err != nil {
		return nil, docStoreError(err)
	}
	out := map[string]any{}
	if item != nil {
		out["Item"] = item
	}
	return out, nil
}

func (b *DocStoreBinding) deleteItem(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		TableName                 string            `json:"TableName"`
		Key                       attr.Item         `json:"Key"`
		ConditionExpression       string            `json:"ConditionExpression"`
		ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
		ExpressionAttributeValues attr.Item         `json:"ExpressionAttributeValues"`
		ReturnValues              string            `json:"ReturnValues"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	old, err := b.store.DeleteItem(in.TableName, in.Key, docstore.Condition{
		Expression: in.ConditionExpression,
		Bindings:   bindingsFrom(in.ExpressionAttributeNames, in.ExpressionAttributeValues),
	})
	if err != nil {
		return nil, docStoreError(err)
	}

	out := map[string]any{}
	if in.ReturnValues == "ALL_OLD" && old != nil {
		out["Attributes"] = old
	}
	return out, nil
}

func (b *DocStoreBinding) updateItem(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		TableName                 string            `json:"TableName"`
		Key                       attr.Item         `json:"Key"`
		UpdateExpression          string            `json:"UpdateExpression"`
		ConditionExpression       string            `json:"ConditionExpression"`
		ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
		ExpressionAttributeValues attr.Item         `json:"ExpressionAttributeValues"`
		ReturnValues              string            `json:"ReturnValues"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	bindings := bindingsFrom(in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	updated, err := b.store.UpdateItem(in.TableName, in.Key, in.UpdateExpression, bindings, docstore.Condition{
		Expression: in.ConditionExpression,
		Bindings:   bindings,
	})
	if err != nil {
		return nil, docStoreError(err)
	}

	out := map[string]any{}
	if in.ReturnValues == "ALL_NEW" && updated != nil {
		out["Attributes"] = updated
	}
	return out, nil
}

func (b *DocStoreBinding) query(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		TableName                 string            `json:"TableName"`
		IndexName                 string            `json:"IndexName"`
		KeyConditionExpression    string            `json:"KeyConditionExpression"`
		FilterExpression          string            `json:"FilterExpression"`
		ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
		ExpressionAttributeValues attr.Item         `json:"ExpressionAttributeValues"`
		Limit                     int               `json:"Limit"`
		ScanIndexForward          *bool             `json:"ScanIndexForward"`
		NextToken                 string            `json:"NextToken"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	forward := true
	if in.ScanIndexForward != nil {
		forward = *in.ScanIndexForward
	}
	page, err := b.store.Query(docstore.QueryInput{
		Table:            in.TableName,
		IndexName:        in.IndexName,
		KeyCondition:     in.KeyConditionExpression,
		FilterExpression: in.FilterExpression,
		Bindings:         bindingsFrom(in.ExpressionAttributeNames, in.ExpressionAttributeValues),
		Limit:            in.Limit,
		ScanForward:      forward,
		StartToken:       in.NextToken,
	})
	if err != nil {
		return nil, docStoreError(err)
	}
	return pageResult(page), nil
}

func (b *DocStoreBinding) scan(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		TableName                 string            `json:"TableName"`
		FilterExpression          string            `json:"FilterExpression"`
		ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
		ExpressionAttributeValues attr.Item         `json:"ExpressionAttributeValues"`
		Limit                     int               `json:"Limit"`
		NextToken                 string            `json:"NextToken"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	page, err := b.store.Scan(docstore.ScanInput{
		Table:            in.TableName,
		FilterExpression: in.FilterExpression,
		Bindings:         bindingsFrom(in.ExpressionAttributeNames, in.ExpressionAttributeValues),
		Limit:            in.Limit,
		StartToken:       in.NextToken,
	})
	if err != nil {
		return nil, docStoreError(err)
	}
	return pageResult(page), nil
}

func pageResult(page *docstore.Page) map[string]any {
	out := map[string]any{
		"Items":        page.Items,
		"Count":        len(page.Items),
		"ScannedCount": page.ScannedCount,
	}
	if page.NextToken != "" {
		out["NextToken"] = page.NextToken
	}
	return out
}

func (b *DocStoreBinding) listTables(ctx context.Context, input json.RawMessage) (any, error) {
	return map[string]any{"TableNames": b.store.ListTables()}, nil
}

func (b *DocStoreBinding) describeTable(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		TableName string `json:"TableName"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	schema, err := b.store.DescribeTable(in.TableName)
	if err != nil {
		return nil, docStoreError(err)
	}
	return map[string]any{"Table": schema}, nil
}
