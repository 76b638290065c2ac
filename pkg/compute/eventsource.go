package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/fabric"
	"github.com/burrowdev/burrow/pkg/provider"
	"github.com/burrowdev/burrow/pkg/queue"
)

const (
	defaultBatchSize = 10
	pollWait         = time.Second
)

// startPoller runs a background receive loop bridging a queue into a
// function. Messages delete on success; on failure they return to
// visible through the queue's own timeout.
func (p *Provider) startPoller(ctx context.Context, fnName string, q *queue.Queue, batch int) {
	logger := p.logger.With().Str("function", fnName).Str("queue", q.Name()).Logger()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			msgs, err := q.Receive(ctx, batch, pollWait, 0)
			if err != nil {
				return // context cancelled
			}
			if len(msgs) == 0 {
				continue
			}

			payload, err := json.Marshal(sqsEnvelope(q.Name(), msgs))
			if err != nil {
				logger.Error().Err(err).Msg("encoding queue batch failed")
				continue
			}
			res, err := p.InvokeFunction(ctx, fnName, payload)
			if err != nil || res.FunctionError != "" {
				logger.Warn().Err(err).Int("batch", len(msgs)).Msg("batch invocation failed, messages return to visible")
				continue
			}
			for _, m := range msgs {
				q.Delete(m.ReceiptHandle)
			}
		}
	}()
}

// streamHandler bridges change-stream batches into a function. A
// delivery error propagates so the dispatcher can log it.
func (p *Provider) streamHandler(fnName string, batch int) fabric.StreamHandler {
	return func(ctx context.Context, records []fabric.StreamRecord) error {
		for start := 0; start < len(records); start += batch {
			end := start + batch
			if end > len(records) {
				end = len(records)
			}
			payload, err := json.Marshal(dynamoEnvelope(records[start:end]))
			if err != nil {
				return err
			}
			res, err := p.InvokeFunction(ctx, fnName, payload)
			if err != nil {
				return err
			}
			if res.FunctionError != "" {
				return fmt.Errorf("function %s failed: %s", fnName, res.FunctionError)
			}
		}
		return nil
	}
}

// sqsEnvelope shapes a received batch the way queue-triggered handlers
// expect.
func sqsEnvelope(queueName string, msgs []queue.Message) events.SQSEvent {
	arn := provider.ARN(provider.ServiceQueue, queueName)
	out := events.SQSEvent{Records: make([]events.SQSMessage, 0, len(msgs))}
	for _, m := range msgs {
		rec := events.SQSMessage{
			MessageId:      m.ID,
			ReceiptHandle:  m.ReceiptHandle,
			Body:           m.Body,
			EventSource:    "aws:sqs",
			EventSourceARN: arn,
			AWSRegion:      provider.DefaultRegion,
			Attributes: map[string]string{
				"ApproximateReceiveCount": fmt.Sprintf("%d", m.ReceiveCount),
				"SentTimestamp":           fmt.Sprintf("%d", m.SentAt.UnixMilli()),
			},
		}
		if len(m.Attributes) > 0 {
			rec.MessageAttributes = map[string]events.SQSMessageAttribute{}
			for k, v := range m.Attributes {
				v := v
				rec.MessageAttributes[k] = events.SQSMessageAttribute{
					DataType:    "String",
					StringValue: &v,
				}
			}
		}
		out.Records = append(out.Records, rec)
	}
	return out
}

// dynamoEnvelope shapes a change-stream batch the way stream-triggered
// handlers expect.
func dynamoEnvelope(records []fabric.StreamRecord) events.DynamoDBEvent {
	out := events.DynamoDBEvent{Records: make([]events.DynamoDBEventRecord, 0, len(records))}
	for _, r := range records {
		out.Records = append(out.Records, events.DynamoDBEventRecord{
			EventID:        r.EventID,
			EventName:      string(r.EventName),
			EventSource:    "aws:dynamodb",
			EventVersion:   "1.1",
			AWSRegion:      provider.DefaultRegion,
			EventSourceArn: provider.ARN(provider.ServiceDocStore, "table/"+r.TableName+"/stream"),
			Change: events.DynamoDBStreamRecord{
				Keys:           itemToLambda(r.Keys),
				NewImage:       itemToLambda(r.NewImage),
				OldImage:       itemToLambda(r.OldImage),
				SequenceNumber: fmt.Sprintf("%d", r.SequenceNumber),
				ApproximateCreationDateTime: events.SecondsEpochTime{
					Time: r.ApproxCreationTime,
				},
			},
		})
	}
	return out
}

func itemToLambda(item attr.Item) map[string]events.DynamoDBAttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]events.DynamoDBAttributeValue, len(item))
	for name, v := range item {
		out[name] = valueToLambda(v)
	}
	return out
}

func valueToLambda(v attr.Value) events.DynamoDBAttributeValue {
	switch v.Type() {
	case attr.TypeString:
		s, _ := v.AsString()
		return events.NewStringAttribute(s)
	case attr.TypeNumber:
		n, _ := v.AsNumber()
		return events.NewNumberAttribute(n.String())
	case attr.TypeBinary:
		b, _ := v.AsBinary()
		return events.NewBinaryAttribute(b)
	case attr.TypeBool:
		b, _ := v.AsBool()
		return events.NewBooleanAttribute(b)
	case attr.TypeNull:
		return events.NewNullAttribute()
	case attr.TypeList:
		l, _ := v.AsList()
		vs := make([]events.DynamoDBAttributeValue, 0, len(l))
		for _, el := range l {
			vs = append(vs, valueToLambda(el))
		}
		return events.NewListAttribute(vs)
	case attr.TypeMap:
		m, _ := v.AsMap()
		return events.NewMapAttribute(itemToLambda(m))
	case attr.TypeStringSet:
		ss, _ := v.AsStringSet()
		return events.NewStringSetAttribute(ss)
	case attr.TypeNumberSet:
		ns, _ := v.AsNumberSet()
		strs := make([]string, 0, len(ns))
		for _, d := range ns {
			strs = append(strs, d.String())
		}
		return events.NewNumberSetAttribute(strs)
	case attr.TypeBinarySet:
		bs, _ := v.AsBinarySet()
		return events.NewBinarySetAttribute(bs)
	}
	return events.NewNullAttribute()
}
