package cloudawstest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const fakeQueueURLPrefix = "https://sqs.fake/000000000000/"

// FakeSQS is an in-memory SQS client.
// Received messages are removed from the queue; redelivery is not simulated.
type FakeSQS struct {
	// ReceiveHook replaces the default receive behavior when it returns a non-nil output or error
	ReceiveHook func(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	// DeleteHook is called before a message is deleted. A non-nil error fails the call.
	DeleteHook func(ctx context.Context, input *sqs.DeleteMessageInput) error
	// EmptyReceiveWait is how long a receive on an empty queue waits before returning (default 10ms)
	EmptyReceiveWait time.Duration

	mu       sync.Mutex
	queues   map[string][]types.Message
	received []*sqs.ReceiveMessageInput
	deleted  []*sqs.DeleteMessageInput
	sent     []*sqs.SendMessageInput
	nextID   int

	getQueueURLCalls atomic.Int32
}

// NewFakeSQS creates a FakeSQS without queues
func NewFakeSQS() *FakeSQS {
	return &FakeSQS{
		queues: make(map[string][]types.Message),
	}
}

// CreateQueue registers a queue and returns its URL
func (f *FakeSQS) CreateQueue(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := fakeQueueURLPrefix + name
	if _, ok := f.queues[url]; !ok {
		f.queues[url] = nil
	}
	return url
}

// QueueURL returns the URL a queue name maps to
func QueueURL(name string) string {
	return fakeQueueURLPrefix + name
}

// Enqueue appends messages to a queue, filling missing ids and receipt handles
func (f *FakeSQS) Enqueue(name string, msgs ...types.Message) {
	url := f.CreateQueue(name)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.nextID++
		if m.MessageId == nil {
			m.MessageId = aws.String(fmt.Sprintf("msg-%d", f.nextID))
		}
		if m.ReceiptHandle == nil {
			m.ReceiptHandle = aws.String("rh-" + aws.ToString(m.MessageId))
		}
		f.queues[url] = append(f.queues[url], m)
	}
}

// EnqueueBodies appends plain messages with the given bodies
func (f *FakeSQS) EnqueueBodies(name string, bodies ...string) {
	msgs := make([]types.Message, 0, len(bodies))
	for _, b := range bodies {
		msgs = append(msgs, types.Message{Body: aws.String(b)})
	}
	f.Enqueue(name, msgs...)
}

// Pending returns the number of messages waiting in a queue
func (f *FakeSQS) Pending(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[QueueURL(name)])
}

func (f *FakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.received = append(f.received, params)
	f.mu.Unlock()

	if f.ReceiveHook != nil {
		out, err := f.ReceiveHook(ctx, params)
		if out != nil || err != nil {
			return out, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	max := int(params.MaxNumberOfMessages)
	if max <= 0 {
		max = 1
	}
	url := aws.ToString(params.QueueUrl)

	f.mu.Lock()
	queue, ok := f.queues[url]
	if !ok {
		f.mu.Unlock()
		return nil, &types.QueueDoesNotExist{Message: aws.String("queue does not exist: " + url)}
	}
	if len(queue) > 0 {
		n := min(max, len(queue))
		batch := append([]types.Message(nil), queue[:n]...)
		f.queues[url] = queue[n:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()

	wait := f.EmptyReceiveWait
	if wait <= 0 {
		wait = 10 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *FakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if f.DeleteHook != nil {
		if err := f.DeleteHook(ctx, params); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, params)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *FakeSQS) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.getQueueURLCalls.Add(1)
	url := QueueURL(aws.ToString(params.QueueName))
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queues[url]; !ok {
		return nil, &types.QueueDoesNotExist{Message: aws.String("The specified queue does not exist.")}
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(url)}, nil
}

func (f *FakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	url := aws.ToString(params.QueueUrl)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queues[url]; !ok {
		return nil, &types.QueueDoesNotExist{Message: aws.String("queue does not exist: " + url)}
	}
	f.nextID++
	id := "sent-" + strconv.Itoa(f.nextID)
	f.sent = append(f.sent, params)
	f.queues[url] = append(f.queues[url], types.Message{
		MessageId:         aws.String(id),
		ReceiptHandle:     aws.String("rh-" + id),
		Body:              params.MessageBody,
		MessageAttributes: params.MessageAttributes,
	})
	return &sqs.SendMessageOutput{MessageId: aws.String(id)}, nil
}

// ReceiveInputs returns every ReceiveMessage request
func (f *FakeSQS) ReceiveInputs() []*sqs.ReceiveMessageInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*sqs.ReceiveMessageInput(nil), f.received...)
}

// ReceiveCount returns the number of ReceiveMessage calls for a queue name
func (f *FakeSQS) ReceiveCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, in := range f.received {
		if strings.HasSuffix(aws.ToString(in.QueueUrl), "/"+name) {
			n++
		}
	}
	return n
}

// DeletedReceiptHandles returns the receipt handles of deleted messages
func (f *FakeSQS) DeletedReceiptHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	handles := make([]string, 0, len(f.deleted))
	for _, d := range f.deleted {
		handles = append(handles, aws.ToString(d.ReceiptHandle))
	}
	return handles
}

// SendInputs returns every SendMessage request
func (f *FakeSQS) SendInputs() []*sqs.SendMessageInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*sqs.SendMessageInput(nil), f.sent...)
}

// GetQueueURLCalls returns the number of GetQueueUrl calls
func (f *FakeSQS) GetQueueURLCalls() int {
	return int(f.getQueueURLCalls.Load())
}
