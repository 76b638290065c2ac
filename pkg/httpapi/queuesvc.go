package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/burrowdev/burrow/pkg/provider"
	"github.com/burrowdev/burrow/pkg/queue"
)

// flexInt decodes a JSON number or a numeric string. The form dialect
// flattens every parameter to a string; the typed dialect sends real
// numbers. Both land here.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s", s)
	}
	*f = flexInt(n)
	return nil
}

// QueueBinding registers the queue actions on a table. Both the typed
// JSON and form dialects route through these handlers.
type QueueBinding struct {
	provider *queue.Provider
	baseURL  string
}

// BindQueue wires the queue actions into the table. baseURL prefixes
// the queue URLs handed back to clients.
func BindQueue(t *Table, p *queue.Provider, baseURL string) {
	b := &QueueBinding{provider: p, baseURL: strings.TrimRight(baseURL, "/")}
	svc := provider.ServiceQueue
	t.Register(svc, "SendMessage", b.sendMessage)
	t.Register(svc, "ReceiveMessage", b.receiveMessage)
	t.Register(svc, "DeleteMessage", b.deleteMessage)
	t.Register(svc, "ChangeMessageVisibility", b.changeVisibility)
	t.Register(svc, "PurgeQueue", b.purgeQueue)
	t.Register(svc, "GetQueueUrl", b.getQueueURL)
	t.Register(svc, "ListQueues", b.listQueues)
}

func (b *QueueBinding) queueURL(name string) string {
	return b.baseURL + "/" + name
}

// queueFromURL resolves a queue by URL or bare name.
func (b *QueueBinding) queueFromURL(queueURL string) (*queue.Queue, error) {
	name := queueURL
	if i := strings.LastIndex(queueURL, "/"); i >= 0 {
		name = queueURL[i+1:]
	}
	q, err := b.provider.Queue(name)
	if err != nil {
		return nil, queueError(err)
	}
	return q, nil
}

func queueError(err error) error {
	if errors.Is(err, queue.ErrQueueNotFound) {
		return apiErrorf(http.StatusBadRequest, "QueueDoesNotExist", "%v", err)
	}
	return err
}

// messageAttribute is the wire form of one typed message attribute.
type messageAttribute struct {
	DataType    string `json:"DataType"`
	StringValue string `json:"StringValue"`
}

func (b *QueueBinding) sendMessage(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		QueueUrl               string                      `json:"QueueUrl"`
		MessageBody            string                      `json:"MessageBody"`
		DelaySeconds           flexInt                     `json:"DelaySeconds"`
		MessageGroupId         string                      `json:"MessageGroupId"`
		MessageDeduplicationId string                      `json:"MessageDeduplicationId"`
		MessageAttributes      map[string]messageAttribute `json:"MessageAttributes"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	q, err := b.queueFromURL(in.QueueUrl)
	if err != nil {
		return nil, err
	}

	var attrs map[string]string
	if len(in.MessageAttributes) > 0 {
		attrs = make(map[string]string, len(in.MessageAttributes))
		for name, a := range in.MessageAttributes {
			attrs[name] = a.StringValue
		}
	}

	id, err := q.Send(in.MessageBody, queue.SendInput{
		Delay:   time.Duration(in.DelaySeconds) * time.Second,
		Attrs:   attrs,
		GroupID: in.MessageGroupId,
		DedupID: in.MessageDeduplicationId,
	})
	if err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "InvalidParameterValue", "%v", err)
	}
	return map[string]any{"MessageId": id}, nil
}

func (b *QueueBinding) receiveMessage(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		QueueUrl            string  `json:"QueueUrl"`
		MaxNumberOfMessages flexInt `json:"MaxNumberOfMessages"`
		WaitTimeSeconds     flexInt `json:"WaitTimeSeconds"`
		VisibilityTimeout   flexInt `json:"VisibilityTimeout"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	q, err := b.queueFromURL(in.QueueUrl)
	if err != nil {
		return nil, err
	}

	max := int(in.MaxNumberOfMessages)
	if max <= 0 {
		max = 1
	}
	msgs, err := q.Receive(ctx,
		max,
		time.Duration(in.WaitTimeSeconds)*time.Second,
		time.Duration(in.VisibilityTimeout)*time.Second,
	)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		entry := map[string]any{
			"MessageId":     m.ID,
			"ReceiptHandle": m.ReceiptHandle,
			"Body":          m.Body,
			"Attributes": map[string]string{
				"ApproximateReceiveCount": strconv.Itoa(m.ReceiveCount),
				"SentTimestamp":           strconv.FormatInt(m.SentAt.UnixMilli(), 10),
			},
		}
		if len(m.Attributes) > 0 {
			wireAttrs := make(map[string]messageAttribute, len(m.Attributes))
			for name, v := range m.Attributes {
				wireAttrs[name] = messageAttribute{DataType: "String", StringValue: v}
			}
			entry["MessageAttributes"] = wireAttrs
		}
		out = append(out, entry)
	}
	return map[string]any{"Messages": out}, nil
}

func (b *QueueBinding) deleteMessage(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		QueueUrl      string `json:"QueueUrl"`
		ReceiptHandle string `json:"ReceiptHandle"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	q, err := b.queueFromURL(in.QueueUrl)
	if err != nil {
		return nil, err
	}
	q.Delete(in.ReceiptHandle)
	return map[string]any{}, nil
}

func (b *QueueBinding) changeVisibility(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		QueueUrl          string  `json:"QueueUrl"`
		ReceiptHandle     string  `json:"ReceiptHandle"`
		VisibilityTimeout flexInt `json:"VisibilityTimeout"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	q, err := b.queueFromURL(in.QueueUrl)
	if err != nil {
		return nil, err
	}
	if err := q.ChangeVisibility(in.ReceiptHandle, time.Duration(in.VisibilityTimeout)*time.Second); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "ReceiptHandleIsInvalid", "%v", err)
	}
	return map[string]any{}, nil
}

func (b *QueueBinding) purgeQueue(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		QueueUrl string `json:"QueueUrl"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	q, err := b.queueFromURL(in.QueueUrl)
	if err != nil {
		return nil, err
	}
	q.Purge()
	return map[string]any{}, nil
}

func (b *QueueBinding) getQueueURL(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		QueueName string `json:"QueueName"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	if _, err := b.provider.Queue(in.QueueName); err != nil {
		return nil, queueError(err)
	}
	return map[string]any{"QueueUrl": b.queueURL(in.QueueName)}, nil
}

func (b *QueueBinding) listQueues(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		QueueNamePrefix string `json:"QueueNamePrefix"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	urls := []string{}
	for _, name := range b.provider.QueueNames() {
		if in.QueueNamePrefix != "" && !strings.HasPrefix(name, in.QueueNamePrefix) {
			continue
		}
		urls = append(urls, b.queueURL(name))
	}
	return map[string]any{"QueueUrls": urls}, nil
}
