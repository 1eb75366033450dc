package cloudaws

import (
	"context"
	"log/slog"
)

// Handler processes a single message received from a queue.
// Returning an error marks the message as failed; it is then reported to the
// container's ErrorHandler and, under the default deletion policy, left on the queue.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts an ordinary function to Handler
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// ReplyHandler processes a message and optionally returns a reply.
// A non-nil reply is forwarded to the listener's SendTo destination.
type ReplyHandler interface {
	Handler
	HandleMessageWithReply(ctx context.Context, msg *Message) (*Message, error)
}

// ReplyHandlerFunc adapts an ordinary function to ReplyHandler
type ReplyHandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

func (f ReplyHandlerFunc) HandleMessageWithReply(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

func (f ReplyHandlerFunc) HandleMessage(ctx context.Context, msg *Message) error {
	_, err := f(ctx, msg)
	return err
}

// ErrorHandler receives handler failures, receive failures and deletion failures
type ErrorHandler interface {
	HandleError(ctx context.Context, err error)
}

// ErrorHandlerFunc adapts an ordinary function to ErrorHandler
type ErrorHandlerFunc func(ctx context.Context, err error)

func (f ErrorHandlerFunc) HandleError(ctx context.Context, err error) {
	f(ctx, err)
}

// LoggingErrorHandler returns an ErrorHandler that logs every error at error level
func LoggingErrorHandler(logger *slog.Logger) ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return ErrorHandlerFunc(func(ctx context.Context, err error) {
		logger.ErrorContext(ctx, "Message listener error", "error", err)
	})
}

// MessageSender sends a message to a named destination (queue name, queue URL or topic ARN)
type MessageSender interface {
	Send(ctx context.Context, destination string, msg *Message) error
}
