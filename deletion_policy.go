package cloudaws

import (
	"fmt"
	"strings"
)

// DeletionPolicy decides whether a received message is deleted after its handler ran
type DeletionPolicy int

const (
	// DeletionPolicyOnSuccess deletes the message only when the handler succeeded
	DeletionPolicyOnSuccess DeletionPolicy = iota
	// DeletionPolicyAlways deletes the message regardless of the handler outcome
	DeletionPolicyAlways
	// DeletionPolicyNever leaves deletion to the handler
	DeletionPolicyNever
)

func (p DeletionPolicy) String() string {
	switch p {
	case DeletionPolicyOnSuccess:
		return "ON_SUCCESS"
	case DeletionPolicyAlways:
		return "ALWAYS"
	case DeletionPolicyNever:
		return "NEVER"
	default:
		return fmt.Sprintf("DeletionPolicy(%d)", int(p))
	}
}

// ShouldDelete reports whether a message whose handler returned handlerErr is deleted
func (p DeletionPolicy) ShouldDelete(handlerErr error) bool {
	switch p {
	case DeletionPolicyAlways:
		return true
	case DeletionPolicyNever:
		return false
	default:
		return handlerErr == nil
	}
}

// ParseDeletionPolicy parses a policy name. The empty string yields DeletionPolicyOnSuccess.
func ParseDeletionPolicy(s string) (DeletionPolicy, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "", "ON_SUCCESS":
		return DeletionPolicyOnSuccess, nil
	case "ALWAYS":
		return DeletionPolicyAlways, nil
	case "NEVER":
		return DeletionPolicyNever, nil
	default:
		return DeletionPolicyOnSuccess, fmt.Errorf("unknown deletion policy %q", s)
	}
}
