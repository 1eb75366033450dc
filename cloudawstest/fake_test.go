package cloudawstest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadParts(t *testing.T, f *FakeS3, uploadID string, parts ...[]byte) []s3types.CompletedPart {
	t.Helper()
	completed := make([]s3types.CompletedPart, 0, len(parts))
	for i, body := range parts {
		out, err := f.UploadPart(context.Background(), &s3.UploadPartInput{
			Bucket:     aws.String("bucket"),
			Key:        aws.String("key"),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(i + 1)),
			Body:       bytes.NewReader(body),
		})
		require.NoError(t, err)
		completed = append(completed, s3types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(int32(i + 1))})
	}
	return completed
}

func TestFakeS3_MultipartUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("AssemblesParts", func(t *testing.T) {
		f := NewFakeS3()
		created, err := f.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String("bucket"),
			Key:         aws.String("key"),
			ContentType: aws.String("text/plain"),
		})
		require.NoError(t, err)
		uploadID := aws.ToString(created.UploadId)

		parts := uploadParts(t, f, uploadID, []byte("hello "), []byte("world"))
		assert.Equal(t, 1, f.PendingUploads())

		_, err = f.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String("bucket"),
			Key:             aws.String("key"),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
		})
		require.NoError(t, err)

		obj, ok := f.Object("bucket", "key")
		require.True(t, ok)
		assert.Equal(t, "hello world", string(obj.Body))
		assert.Equal(t, "text/plain", obj.ContentType)
		assert.True(t, obj.Multipart)
		assert.Equal(t, 0, f.PendingUploads())
		assert.Len(t, f.UploadPartCalls(), 2)
	})

	t.Run("RejectsOutOfOrderParts", func(t *testing.T) {
		f := NewFakeS3()
		created, err := f.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String("bucket"),
			Key:    aws.String("key"),
		})
		require.NoError(t, err)
		uploadID := aws.ToString(created.UploadId)

		parts := uploadParts(t, f, uploadID, []byte("a"), []byte("b"))
		parts[0], parts[1] = parts[1], parts[0]

		_, err = f.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String("bucket"),
			Key:             aws.String("key"),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
		})
		var apiErr smithy.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "InvalidPartOrder", apiErr.ErrorCode())
		_, ok := f.Object("bucket", "key")
		assert.False(t, ok)
	})

	t.Run("Abort", func(t *testing.T) {
		f := NewFakeS3()
		created, err := f.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String("bucket"),
			Key:    aws.String("key"),
		})
		require.NoError(t, err)

		_, err = f.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{UploadId: created.UploadId})
		require.NoError(t, err)
		assert.Equal(t, []string{aws.ToString(created.UploadId)}, f.AbortedUploads())
		assert.Equal(t, 0, f.PendingUploads())

		_, err = f.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{UploadId: created.UploadId})
		var noSuchUpload *s3types.NoSuchUpload
		assert.True(t, errors.As(err, &noSuchUpload))
	})
}

func TestFakeSQS_Receive(t *testing.T) {
	ctx := context.Background()
	f := NewFakeSQS()
	f.EnqueueBodies("orders", "one", "two", "three")
	assert.Equal(t, 3, f.Pending("orders"))

	out, err := f.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(QueueURL("orders")),
		MaxNumberOfMessages: 2,
	})
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "one", aws.ToString(out.Messages[0].Body))
	assert.NotEmpty(t, aws.ToString(out.Messages[0].ReceiptHandle))
	assert.Equal(t, 1, f.Pending("orders"))

	_, err = f.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{QueueUrl: aws.String(QueueURL("missing"))})
	var notExist *sqstypes.QueueDoesNotExist
	assert.True(t, errors.As(err, &notExist))

	url, err := f.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String("orders")})
	require.NoError(t, err)
	assert.Equal(t, QueueURL("orders"), aws.ToString(url.QueueUrl))
	assert.Equal(t, 1, f.GetQueueURLCalls())
}
