package awsadp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/mashiike/cloudaws"
)

//go:generate go tool mockgen -source=sns_template.go -destination=mock_sns_template_test.go -package=awsadp

// SNSAPI is the subset of the SNS client used by this package
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var _ SNSAPI = (*sns.Client)(nil)

// NotificationMessagingTemplateConfig holds configuration for NotificationMessagingTemplate
type NotificationMessagingTemplateConfig struct {
	Client             SNSAPI
	ResourceIDResolver cloudaws.ResourceIDResolver
	Logger             *slog.Logger
}

// NotificationMessagingTemplate publishes messages to SNS topics
type NotificationMessagingTemplate struct {
	client   SNSAPI
	resolver cloudaws.ResourceIDResolver
	logger   *slog.Logger
}

var _ cloudaws.MessageSender = (*NotificationMessagingTemplate)(nil)

// NewNotificationMessagingTemplate creates a new notification messaging template
func NewNotificationMessagingTemplate(cfg NotificationMessagingTemplateConfig) (*NotificationMessagingTemplate, error) {
	if cfg.Client == nil {
		return nil, errors.New("SNS client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &NotificationMessagingTemplate{
		client:   cfg.Client,
		resolver: cfg.ResourceIDResolver,
		logger:   cfg.Logger,
	}, nil
}

// Send publishes msg to a topic ARN, or to a logical name the resolver maps to one.
// The Subject header becomes the notification subject.
func (t *NotificationMessagingTemplate) Send(ctx context.Context, destination string, msg *cloudaws.Message) error {
	topicARN := cloudaws.Resolve(t.resolver, destination)
	if !strings.HasPrefix(topicARN, "arn:") {
		return fmt.Errorf("destination %s is not a topic ARN", destination)
	}
	input := &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(msg.Payload),
		MessageAttributes: notificationAttributes(msg),
	}
	if subject, ok := msg.Header(cloudaws.HeaderSubject); ok && subject != "" {
		input.Subject = aws.String(subject)
	}
	if v, ok := msg.Header(HeaderMessageGroupID); ok {
		input.MessageGroupId = aws.String(v)
	}
	if v, ok := msg.Header(HeaderMessageDeduplicationID); ok {
		input.MessageDeduplicationId = aws.String(v)
	}
	out, err := t.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", topicARN, err)
	}
	t.logger.DebugContext(ctx, "Notification published", "topic_arn", topicARN, "message_id", aws.ToString(out.MessageId))
	return nil
}

func notificationAttributes(msg *cloudaws.Message) map[string]types.MessageAttributeValue {
	queueAttrs := messageAttributes(msg)
	attrs := make(map[string]types.MessageAttributeValue, len(queueAttrs))
	for k, v := range queueAttrs {
		attrs[k] = types.MessageAttributeValue{
			DataType:    v.DataType,
			StringValue: v.StringValue,
		}
	}
	return attrs
}
