package awsadp

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/mashiike/cloudaws"
)

// Header names carrying SQS FIFO send parameters
const (
	HeaderMessageGroupID         = "MessageGroupId"
	HeaderMessageDeduplicationID = "MessageDeduplicationId"
)

// decimal numbers without leading zeros; anything else is sent as String
var numberPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// headers that never become outgoing message attributes
var reservedHeaders = map[string]struct{}{
	cloudaws.HeaderContentType:         {},
	cloudaws.HeaderMessageID:           {},
	cloudaws.HeaderReceiptHandle:       {},
	cloudaws.HeaderLogicalResourceID:   {},
	cloudaws.HeaderSubject:             {},
	HeaderMessageGroupID:               {},
	HeaderMessageDeduplicationID:       {},
	"SenderId":                         {},
	"SentTimestamp":                    {},
	"ApproximateReceiveCount":          {},
	"ApproximateFirstReceiveTimestamp": {},
	"SequenceNumber":                   {},
	"AWSTraceHeader":                   {},
}

func newReceivedMessage(queue, id, receiptHandle, body string) *cloudaws.Message {
	msg := &cloudaws.Message{
		ID:            id,
		Payload:       body,
		Headers:       make(map[string]string),
		Queue:         queue,
		ReceiptHandle: receiptHandle,
	}
	msg.Headers[cloudaws.HeaderMessageID] = id
	msg.Headers[cloudaws.HeaderReceiptHandle] = receiptHandle
	msg.Headers[cloudaws.HeaderLogicalResourceID] = queue
	return msg
}

// finishReceivedMessage derives typed fields from the collected headers
func finishReceivedMessage(msg *cloudaws.Message) *cloudaws.Message {
	if ts, ok := msg.Headers["SentTimestamp"]; ok {
		if millis, err := strconv.ParseInt(ts, 10, 64); err == nil {
			msg.Timestamp = time.UnixMilli(millis)
		}
	}
	if ct, ok := msg.Headers[cloudaws.HeaderContentType]; ok {
		if mt, err := cloudaws.ParseMimeType(ct); err == nil {
			msg.ContentType = mt
		}
	}
	return msg
}

// messageFromSQS converts a received SQS message.
// System attributes and message attributes become headers; binary values are base64 encoded.
func messageFromSQS(queue string, m types.Message) *cloudaws.Message {
	msg := newReceivedMessage(queue, aws.ToString(m.MessageId), aws.ToString(m.ReceiptHandle), aws.ToString(m.Body))
	for k, v := range m.Attributes {
		msg.Headers[k] = v
	}
	for k, v := range m.MessageAttributes {
		switch {
		case v.StringValue != nil:
			msg.Headers[k] = *v.StringValue
		case v.BinaryValue != nil:
			msg.Headers[k] = base64.StdEncoding.EncodeToString(v.BinaryValue)
		}
	}
	return finishReceivedMessage(msg)
}

// messageFromLambda converts a record of a Lambda SQS event
func messageFromLambda(queue string, r events.SQSMessage) *cloudaws.Message {
	msg := newReceivedMessage(queue, r.MessageId, r.ReceiptHandle, r.Body)
	for k, v := range r.Attributes {
		msg.Headers[k] = v
	}
	for k, v := range r.MessageAttributes {
		switch {
		case v.StringValue != nil:
			msg.Headers[k] = *v.StringValue
		case v.BinaryValue != nil:
			msg.Headers[k] = base64.StdEncoding.EncodeToString(v.BinaryValue)
		}
	}
	return finishReceivedMessage(msg)
}

// messageAttributes builds outgoing SQS message attributes from the message headers
func messageAttributes(msg *cloudaws.Message) map[string]types.MessageAttributeValue {
	attrs := make(map[string]types.MessageAttributeValue)
	for k, v := range msg.Headers {
		if _, reserved := reservedHeaders[k]; reserved {
			continue
		}
		dataType := "String"
		if numberPattern.MatchString(v) {
			dataType = "Number"
		}
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String(dataType),
			StringValue: aws.String(v),
		}
	}
	if ct := contentTypeOf(msg); ct != "" {
		attrs[cloudaws.HeaderContentType] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(ct),
		}
	}
	return attrs
}

func contentTypeOf(msg *cloudaws.Message) string {
	if msg.ContentType != nil {
		return msg.ContentType.String()
	}
	if ct, ok := msg.Headers[cloudaws.HeaderContentType]; ok {
		return ct
	}
	return ""
}
