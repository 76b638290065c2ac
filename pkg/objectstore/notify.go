package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/burrowdev/burrow/pkg/fabric"
	"github.com/burrowdev/burrow/pkg/provider"
)

// notificationHandler adapts one object event into the standard
// records envelope and delivers it to a compute function.
func notificationHandler(invoker provider.Invoker, function string) fabric.ObjectHandler {
	return func(ctx context.Context, ev fabric.ObjectEvent) error {
		payload, err := json.Marshal(s3Envelope(ev))
		if err != nil {
			return err
		}
		res, err := invoker.InvokeFunction(ctx, function, payload)
		if err != nil {
			return err
		}
		if res.FunctionError != "" {
			return fmt.Errorf("function %s failed: %s", function, res.FunctionError)
		}
		return nil
	}
}

// s3Envelope shapes one event as {"Records":[...]} with an aws:s3
// event source, the form compute handlers written against the real SDK
// expect.
func s3Envelope(ev fabric.ObjectEvent) events.S3Event {
	return events.S3Event{
		Records: []events.S3EventRecord{{
			EventVersion: "2.1",
			EventSource:  "aws:s3",
			AWSRegion:    provider.DefaultRegion,
			EventTime:    ev.Time,
			EventName:    strings.TrimPrefix(ev.EventType, "s3:"),
			S3: events.S3Entity{
				SchemaVersion: "1.0",
				Bucket: events.S3Bucket{
					Name: ev.Bucket,
					Arn:  provider.ARN(provider.ServiceObjectStore, ev.Bucket),
				},
				Object: events.S3Object{
					Key:  ev.Key,
					Size: ev.Size,
					ETag: strings.Trim(ev.ETag, `"`),
				},
			},
		}},
	}
}
