package awsadp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hashicorp/go-multierror"
	"github.com/mashiike/cloudaws"
)

const abortTimeout = 30 * time.Second

// PartDescriptor describes one uploaded part of a multipart upload
type PartDescriptor struct {
	PartNumber int32
	Size       int
	ETag       string
}

// UploadError reports a failed multipart upload.
// Err aggregates every part failure, or holds the completion failure.
type UploadError struct {
	Bucket   string
	Key      string
	UploadID string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("multipart upload %s to s3://%s/%s failed: %v", e.UploadID, e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

type partResult struct {
	part PartDescriptor
	err  error
}

// multipartUpload coordinates the parts of one multipart upload session.
// Parts are handed to the executor without blocking the writer; results are
// collected in completion order and sorted before the upload is completed.
type multipartUpload struct {
	ctx      context.Context
	client   S3API
	executor cloudaws.TaskExecutor
	bucket   string
	key      string
	uploadID string
	logger   *slog.Logger
	metrics  *cloudaws.Metrics

	mu      sync.Mutex
	results []partResult
	notify  chan struct{}
}

func initiateMultipartUpload(ctx context.Context, w *ObjectWriter, contentType string) (*multipartUpload, error) {
	out, err := w.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(w.key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initiate multipart upload for s3://%s/%s: %w", w.bucket, w.key, err)
	}
	w.logger.DebugContext(ctx, "Multipart upload initiated", "bucket", w.bucket, "key", w.key, "upload_id", aws.ToString(out.UploadId))
	return &multipartUpload{
		ctx:      ctx,
		client:   w.client,
		executor: w.executor,
		bucket:   w.bucket,
		key:      w.key,
		uploadID: aws.ToString(out.UploadId),
		logger:   w.logger,
		metrics:  w.metrics,
		notify:   make(chan struct{}, 1),
	}, nil
}

// submitPart hands payload to the executor and returns immediately.
// A rejected submission is recorded as a failed part.
func (u *multipartUpload) submitPart(payload []byte, partNumber int32, isLast bool) {
	err := u.executor.Submit(func() {
		part, err := u.uploadPart(payload, partNumber, isLast)
		payload = nil
		u.record(partResult{part: part, err: err})
	})
	if err != nil {
		u.record(partResult{
			part: PartDescriptor{PartNumber: partNumber},
			err:  fmt.Errorf("failed to submit part %d: %w", partNumber, err),
		})
	}
}

func (u *multipartUpload) uploadPart(payload []byte, partNumber int32, isLast bool) (PartDescriptor, error) {
	part := PartDescriptor{PartNumber: partNumber, Size: len(payload)}
	out, err := u.client.UploadPart(u.ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.key),
		UploadId:      aws.String(u.uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
	})
	if err != nil {
		return part, fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}
	part.ETag = aws.ToString(out.ETag)
	u.metrics.PartUploaded(int64(part.Size))
	u.logger.Debug("Part uploaded", "upload_id", u.uploadID, "part_number", partNumber, "size", part.Size, "last", isLast)
	return part, nil
}

func (u *multipartUpload) record(r partResult) {
	u.mu.Lock()
	u.results = append(u.results, r)
	u.mu.Unlock()
	select {
	case u.notify <- struct{}{}:
	default:
	}
}

// awaitAllParts blocks until expected results were recorded and returns the
// descriptors in ascending part number order. Every result is drained before
// failures are reported; all of them are aggregated in the returned error.
func (u *multipartUpload) awaitAllParts(ctx context.Context, expected int) ([]PartDescriptor, error) {
	for {
		u.mu.Lock()
		n := len(u.results)
		u.mu.Unlock()
		if n >= expected {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("interrupted while waiting for parts: %w", ctx.Err())
		case <-u.notify:
		}
	}

	u.mu.Lock()
	results := append([]partResult(nil), u.results...)
	u.mu.Unlock()
	sort.Slice(results, func(i, j int) bool {
		return results[i].part.PartNumber < results[j].part.PartNumber
	})

	var merr *multierror.Error
	parts := make([]PartDescriptor, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			merr = multierror.Append(merr, r.err)
			continue
		}
		parts = append(parts, r.part)
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (u *multipartUpload) complete(ctx context.Context, parts []PartDescriptor) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}
	_, err := u.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	u.metrics.MultipartCompleted()
	u.logger.DebugContext(ctx, "Multipart upload completed", "bucket", u.bucket, "key", u.key, "upload_id", u.uploadID, "parts", len(parts))
	return nil
}

// abort is best-effort: failures are logged, never returned.
// It runs even when ctx is already cancelled.
func (u *multipartUpload) abort(ctx context.Context) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	_, err := u.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	if err != nil {
		u.metrics.MultipartAbortFailed()
		u.logger.WarnContext(ctx, "Failed to abort multipart upload", "bucket", u.bucket, "key", u.key, "upload_id", u.uploadID, "error", err)
		return
	}
	u.metrics.MultipartAborted()
	u.logger.InfoContext(ctx, "Multipart upload aborted", "bucket", u.bucket, "key", u.key, "upload_id", u.uploadID)
}

func (u *multipartUpload) uploadError(err error) *UploadError {
	return &UploadError{Bucket: u.bucket, Key: u.key, UploadID: u.uploadID, Err: err}
}
