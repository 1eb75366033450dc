package awsadp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/mashiike/cloudaws"
	"golang.org/x/sync/singleflight"
)

// QueueMessagingTemplateConfig holds configuration for QueueMessagingTemplate
type QueueMessagingTemplateConfig struct {
	Client             SQSAPI
	ResourceIDResolver cloudaws.ResourceIDResolver
	// IDGenerator supplies deduplication ids for FIFO queues when the message has none
	IDGenerator cloudaws.IDGenerator
	Logger      *slog.Logger
}

// QueueMessagingTemplate sends messages to SQS queues addressed by name or URL
type QueueMessagingTemplate struct {
	client   SQSAPI
	resolver cloudaws.ResourceIDResolver
	idGen    cloudaws.IDGenerator
	logger   *slog.Logger

	urls  sync.Map // physical queue name -> queue URL
	group singleflight.Group
}

var _ cloudaws.MessageSender = (*QueueMessagingTemplate)(nil)

// NewQueueMessagingTemplate creates a new queue messaging template
func NewQueueMessagingTemplate(cfg QueueMessagingTemplateConfig) (*QueueMessagingTemplate, error) {
	if cfg.Client == nil {
		return nil, errors.New("SQS client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = &cloudaws.DefaultIDGenerator{}
	}
	return &QueueMessagingTemplate{
		client:   cfg.Client,
		resolver: cfg.ResourceIDResolver,
		idGen:    cfg.IDGenerator,
		logger:   cfg.Logger,
	}, nil
}

// Send sends msg to destination, a logical queue name or a queue URL.
// MessageGroupId and MessageDeduplicationId headers are sent as FIFO parameters.
func (t *QueueMessagingTemplate) Send(ctx context.Context, destination string, msg *cloudaws.Message) error {
	queueURL, err := t.ResolveQueueURL(ctx, destination)
	if err != nil {
		return err
	}
	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(msg.Payload),
		MessageAttributes: messageAttributes(msg),
	}
	if v, ok := msg.Header(HeaderMessageGroupID); ok {
		input.MessageGroupId = aws.String(v)
	}
	if v, ok := msg.Header(HeaderMessageDeduplicationID); ok {
		input.MessageDeduplicationId = aws.String(v)
	} else if strings.HasSuffix(queueURL, ".fifo") {
		input.MessageDeduplicationId = aws.String(t.idGen.GenerateDeduplicationID())
	}
	out, err := t.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", destination, err)
	}
	t.logger.DebugContext(ctx, "Message sent", "destination", destination, "message_id", aws.ToString(out.MessageId))
	return nil
}

// ResolveQueueURL returns the URL of a queue. Lookups are cached and
// concurrent lookups of the same queue share one GetQueueUrl call.
func (t *QueueMessagingTemplate) ResolveQueueURL(ctx context.Context, destination string) (string, error) {
	if isQueueURL(destination) {
		return destination, nil
	}
	name := cloudaws.Resolve(t.resolver, destination)
	if isQueueURL(name) {
		return name, nil
	}
	if v, ok := t.urls.Load(name); ok {
		return v.(string), nil
	}
	v, err, _ := t.group.Do(name, func() (any, error) {
		out, err := t.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve queue url for %s: %w", destination, err)
		}
		url := aws.ToString(out.QueueUrl)
		t.urls.Store(name, url)
		return url, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// DestinationSender routes SNS topic ARNs to a NotificationMessagingTemplate
// and every other destination to a QueueMessagingTemplate.
type DestinationSender struct {
	Queues             *QueueMessagingTemplate
	Topics             *NotificationMessagingTemplate
	ResourceIDResolver cloudaws.ResourceIDResolver
}

var _ cloudaws.MessageSender = (*DestinationSender)(nil)

func isTopicARN(s string) bool {
	parts := strings.SplitN(s, ":", 6)
	return len(parts) == 6 && parts[0] == "arn" && parts[2] == "sns"
}

// Send implements cloudaws.MessageSender
func (s *DestinationSender) Send(ctx context.Context, destination string, msg *cloudaws.Message) error {
	physical := cloudaws.Resolve(s.ResourceIDResolver, destination)
	if isTopicARN(physical) {
		if s.Topics == nil {
			return fmt.Errorf("no notification template configured for topic %s", physical)
		}
		return s.Topics.Send(ctx, physical, msg)
	}
	if s.Queues == nil {
		return fmt.Errorf("no queue template configured for %s", destination)
	}
	return s.Queues.Send(ctx, physical, msg)
}
