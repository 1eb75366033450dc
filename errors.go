package cloudaws

import (
	"errors"
	"fmt"
)

// Lifecycle and dispatch error variables
var (
	// ErrExecutorShutdown is returned when submitting to an executor that was shut down
	ErrExecutorShutdown = errors.New("task executor is shut down")
	// ErrContainerDestroyed is returned when starting a destroyed listener container
	ErrContainerDestroyed = errors.New("listener container is destroyed")
	// ErrNoListener is returned when a message arrives for a queue without a registered listener
	ErrNoListener = errors.New("no listener registered for queue")
	// ErrSkipEvent marks a Lambda event that carries nothing to process
	ErrSkipEvent = errors.New("skip event")
)

// HandlerError reports a failure of user handler code for a single message.
// It never stops the poller that dispatched the message.
type HandlerError struct {
	Queue     string
	MessageID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for message %s on queue %s: %v", e.MessageID, e.Queue, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// ReceiveError reports a failed poll iteration of a queue.
type ReceiveError struct {
	Queue string
	Err   error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("failed to receive messages from queue %s: %v", e.Queue, e.Err)
}

func (e *ReceiveError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking handler
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}
