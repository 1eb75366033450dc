package cloudaws

import "github.com/google/uuid"

// IDGenerator provides unique ID generation for outgoing messages
type IDGenerator interface {
	// GenerateMessageID generates a unique message identifier
	GenerateMessageID() string
	// GenerateDeduplicationID generates a deduplication id for FIFO queues
	GenerateDeduplicationID() string
}

// DefaultIDGenerator implements IDGenerator using UUID v7
type DefaultIDGenerator struct{}

// GenerateMessageID generates a message ID using UUID v7
func (g *DefaultIDGenerator) GenerateMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// GenerateDeduplicationID generates a deduplication ID using UUID v7
func (g *DefaultIDGenerator) GenerateDeduplicationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

var defaultIDGenerator IDGenerator = &DefaultIDGenerator{}
