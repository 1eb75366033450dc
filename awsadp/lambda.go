package awsadp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/mashiike/cloudaws"
)

const sqsEventSource = "aws:sqs"

// ParseSQSEvent decodes a raw Lambda event and keeps only SQS records.
// It returns cloudaws.ErrSkipEvent when the event carries no SQS record.
func ParseSQSEvent(event json.RawMessage) (events.SQSEvent, error) {
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(event, &sqsEvent); err != nil {
		return events.SQSEvent{}, fmt.Errorf("failed to parse SQS event: %w", err)
	}
	records := make([]events.SQSMessage, 0, len(sqsEvent.Records))
	for _, record := range sqsEvent.Records {
		if record.EventSource != sqsEventSource {
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return events.SQSEvent{}, cloudaws.ErrSkipEvent
	}
	sqsEvent.Records = records
	return sqsEvent, nil
}

func queueNameFromARN(arn string) string {
	return arn[strings.LastIndex(arn, ":")+1:]
}

// HandleSQSEvent dispatches the records of a Lambda SQS event to the registered handlers.
//
// Records are handled synchronously in order. Deletion is left to Lambda: the
// ids of failed records are reported as batch item failures so that only they
// are retried. The container does not need to be started.
func (c *ListenerContainer) HandleSQSEvent(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range event.Records {
		name := queueNameFromARN(record.EventSourceARN)
		reg, ok := c.byPhysical[name]
		if !ok {
			c.handleError(ctx, fmt.Errorf("%w: %s", cloudaws.ErrNoListener, name))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		c.metrics.MessagesReceived(reg.queue, 1)
		msg := messageFromLambda(reg.queue, record)
		if err := c.invoke(ctx, reg, msg); err != nil {
			c.metrics.MessageFailed(reg.queue)
			c.handleError(ctx, &cloudaws.HandlerError{Queue: reg.queue, MessageID: msg.ID, Err: err})
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		c.metrics.MessageHandled(reg.queue)
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		c.logger.WarnContext(ctx, "SQS event handled with failures", "records", len(event.Records), "failures", n)
	}
	return resp, nil
}
