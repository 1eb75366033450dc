// Package cloudaws provides the building blocks for wiring Go services to AWS
// messaging and storage: a structured message model, handler contracts,
// a bounded task executor, lifecycle states, metrics and configuration.
//
// AWS specific adapters (S3 object streams, SQS listener container, SNS/SQS
// messaging templates) live in the awsadp package.
package cloudaws

import "fmt"

// LifecycleState is the lifecycle state of a listener container.
// All pollers of a container observe the same state.
type LifecycleState int32

const (
	StateCreated LifecycleState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("LifecycleState(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler so states render as names in JSON
func (s LifecycleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
