package awsadp

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/mashiike/cloudaws"
)

// active reports whether pollers of run may keep receiving
func (c *ListenerContainer) active(run *containerRun) bool {
	return c.IsRunning() && run.stopCtx.Err() == nil
}

func (c *ListenerContainer) receiveInput(reg *registration) *sqs.ReceiveMessageInput {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(reg.url()),
		MaxNumberOfMessages:         reg.maxMessages,
		WaitTimeSeconds:             reg.wait,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameAll},
		MessageAttributeNames:       []string{cloudaws.HeaderContentType},
	}
	if reg.visibility > 0 {
		input.VisibilityTimeout = reg.visibility
	}
	return input
}

// poll is the loop of one queue poller
func (c *ListenerContainer) poll(run *containerRun, reg *registration) {
	logger := c.logger.With("queue", reg.queue)
	logger.Debug("Poller started", "url", reg.url())
	defer logger.Debug("Poller stopped")

	input := c.receiveInput(reg)
	for c.active(run) {
		out, err := c.client.ReceiveMessage(run.runCtx, input)
		if err != nil {
			if !c.active(run) {
				return
			}
			c.metrics.ReceiveError(reg.queue)
			c.handleError(run.runCtx, &cloudaws.ReceiveError{Queue: reg.queue, Err: err})
			c.backOff(run)
			continue
		}
		if out == nil {
			out = &sqs.ReceiveMessageOutput{}
		}
		if !c.active(run) {
			// not dispatched; the messages become visible again after the visibility timeout
			if len(out.Messages) > 0 {
				logger.Debug("Discarding messages received after stop", "count", len(out.Messages))
			}
			return
		}
		c.metrics.MessagesReceived(reg.queue, len(out.Messages))
		for _, m := range out.Messages {
			if err := reg.permits.Acquire(run.stopCtx, 1); err != nil {
				return
			}
			c.dispatch(run, reg, messageFromSQS(reg.queue, m))
		}
	}
}

func (c *ListenerContainer) backOff(run *containerRun) {
	timer := time.NewTimer(c.backOffTime)
	defer timer.Stop()
	select {
	case <-run.stopCtx.Done():
	case <-timer.C:
	}
}

// dispatch submits the handler invocation of msg. The caller holds one permit of reg;
// it is released when the invocation finishes or could not be submitted.
func (c *ListenerContainer) dispatch(run *containerRun, reg *registration, msg *cloudaws.Message) {
	run.handlers.Add(1)
	reg.inFlight.Add(1)
	c.metrics.InFlight(reg.queue, 1)
	finish := func() {
		c.metrics.InFlight(reg.queue, -1)
		reg.inFlight.Add(-1)
		reg.permits.Release(1)
		run.handlers.Done()
	}

	err := c.executor.Submit(func() {
		defer finish()
		c.handleMessage(run.runCtx, reg, msg)
	})
	if err != nil {
		finish()
		c.handleError(run.runCtx, &cloudaws.HandlerError{
			Queue:     reg.queue,
			MessageID: msg.ID,
			Err:       fmt.Errorf("failed to submit message: %w", err),
		})
	}
}

// handleMessage runs the handler, reports failures and applies the deletion policy
func (c *ListenerContainer) handleMessage(ctx context.Context, reg *registration, msg *cloudaws.Message) {
	err := c.invoke(ctx, reg, msg)
	if err != nil {
		c.metrics.MessageFailed(reg.queue)
		c.handleError(ctx, &cloudaws.HandlerError{Queue: reg.queue, MessageID: msg.ID, Err: err})
	} else {
		c.metrics.MessageHandled(reg.queue)
	}
	if c.deletionPolicy.ShouldDelete(err) {
		c.deleteMessage(ctx, reg, msg)
	}
}

// invoke calls the handler, converting a panic into an error, and forwards replies
func (c *ListenerContainer) invoke(ctx context.Context, reg *registration, msg *cloudaws.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &cloudaws.PanicError{Value: r}
		}
	}()

	rh, ok := reg.handler.(cloudaws.ReplyHandler)
	if !ok {
		return reg.handler.HandleMessage(ctx, msg)
	}
	reply, err := rh.HandleMessageWithReply(ctx, msg)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if reg.sendTo == "" {
		c.logger.WarnContext(ctx, "Discarding reply without destination", "queue", reg.queue, "message_id", msg.ID)
		return nil
	}
	if err := c.replySender.Send(ctx, reg.sendTo, reply); err != nil {
		return fmt.Errorf("failed to send reply to %s: %w", reg.sendTo, err)
	}
	return nil
}

func (c *ListenerContainer) deleteMessage(ctx context.Context, reg *registration, msg *cloudaws.Message) {
	// a handled message is deleted even when the handler outlived the stop timeout
	ctx = context.WithoutCancel(ctx)
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(reg.url()),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		c.handleError(ctx, fmt.Errorf("failed to delete message %s from queue %s: %w", msg.ID, reg.queue, err))
		return
	}
	c.metrics.MessageDeleted(reg.queue)
}

func (c *ListenerContainer) handleError(ctx context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "Error handler panicked", "panic", r, "error", err)
		}
	}()
	c.errorHandler.HandleError(ctx, err)
}
