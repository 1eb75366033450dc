// Package awsadp provides AWS adapters for cloudaws.
//
// ObjectWriter: streams an arbitrarily large payload into an S3 object, switching
// from a single put to a concurrent multipart upload once the payload outgrows one part.
// S3ResourceLoader / S3Resource: s3://bucket/key locations with metadata and read access.
// ListenerContainer: polls SQS queues and dispatches messages to handlers with
// bounded per-queue concurrency.
// QueueMessagingTemplate / NotificationMessagingTemplate: send messages to SQS queues and SNS topics.
// ArchiveHandler: a handler that stores every message in S3.
//
// These adapters are compatible with minio and elasticmq for local development.
package awsadp
