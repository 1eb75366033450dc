package awsadp

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/mashiike/cloudaws"
)

// ObjectWriterConfig holds configuration for ObjectWriter
type ObjectWriterConfig struct {
	Client S3API
	Bucket string
	Key    string
	// PartSize is the buffer and part size. Default and minimum: cloudaws.MinPartSize.
	PartSize int
	// ContentType of the object. When empty it is detected from the first buffered bytes.
	ContentType string
	// Executor uploads parts. When nil the writer owns a WorkerPool of UploadConcurrency slots.
	Executor          cloudaws.TaskExecutor
	UploadConcurrency int
	Logger            *slog.Logger
	Metrics           *cloudaws.Metrics
}

// ObjectWriter streams data into an S3 object.
//
// Bytes are buffered up to PartSize. A full buffer is flushed only when more
// bytes arrive, so a payload of at most one part is stored with a single
// PutObject carrying a Content-MD5 digest. Larger payloads switch to a
// multipart upload whose parts are uploaded concurrently while writing continues.
// Close finishes the upload; on any failure the multipart upload is aborted.
//
// An ObjectWriter is meant for a single writing goroutine.
type ObjectWriter struct {
	ctx         context.Context
	client      S3API
	bucket      string
	key         string
	partSize    int
	contentType string
	executor    cloudaws.TaskExecutor
	ownedPool   *cloudaws.WorkerPool
	logger      *slog.Logger
	metrics     *cloudaws.Metrics

	mu         sync.Mutex
	buf        []byte
	upload     *multipartUpload
	partNumber int32
	err        error
	closed     bool
}

var _ io.WriteCloser = (*ObjectWriter)(nil)

// NewObjectWriter creates a writer for s3://bucket/key.
// ctx bounds every S3 call made by the writer, including part uploads.
func NewObjectWriter(ctx context.Context, cfg ObjectWriterConfig) (*ObjectWriter, error) {
	if cfg.Client == nil {
		return nil, errors.New("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Key == "" {
		return nil, errors.New("key is required")
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = cloudaws.MinPartSize
	}
	if cfg.PartSize < cloudaws.MinPartSize {
		return nil, fmt.Errorf("part size %d is smaller than the minimum %d", cfg.PartSize, cloudaws.MinPartSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &ObjectWriter{
		ctx:         ctx,
		client:      cfg.Client,
		bucket:      cfg.Bucket,
		key:         cfg.Key,
		partSize:    cfg.PartSize,
		contentType: cfg.ContentType,
		executor:    cfg.Executor,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
	if w.executor == nil {
		size := cfg.UploadConcurrency
		if size <= 0 {
			size = cloudaws.DefaultUploadConcurrency
		}
		w.ownedPool = cloudaws.NewWorkerPool(size)
		w.executor = w.ownedPool
	}
	return w, nil
}

// Write implements io.Writer
func (w *ObjectWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fs.ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	written := 0
	for len(p) > 0 {
		if w.buf == nil {
			w.buf = make([]byte, 0, w.partSize)
		}
		if len(w.buf) == w.partSize {
			if err := w.flushPart(); err != nil {
				w.err = err
				return written, err
			}
		}
		n := min(w.partSize-len(w.buf), len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n
	}
	return written, nil
}

// flushPart hands the full buffer to the upload session, initiating it first if needed
func (w *ObjectWriter) flushPart() error {
	if w.upload == nil {
		upload, err := initiateMultipartUpload(w.ctx, w, w.detectContentType())
		if err != nil {
			return err
		}
		w.upload = upload
	}
	w.partNumber++
	payload := w.buf
	w.buf = make([]byte, 0, w.partSize)
	w.upload.submitPart(payload, w.partNumber, false)
	return nil
}

func (w *ObjectWriter) detectContentType() string {
	if w.contentType != "" {
		return w.contentType
	}
	return mimetype.Detect(w.buf).String()
}

// Close implements io.Closer. It stores the buffered bytes and, for a
// multipart upload, waits for every part before completing it.
func (w *ObjectWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true
	defer w.release()

	if w.err != nil {
		if w.upload != nil {
			w.upload.abort(w.ctx)
			return w.upload.uploadError(w.err)
		}
		return w.err
	}
	if w.upload == nil {
		return w.putObject()
	}
	return w.completeMultipart()
}

func (w *ObjectWriter) putObject() error {
	sum := md5.Sum(w.buf)
	_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(w.key),
		Body:          bytes.NewReader(w.buf),
		ContentLength: aws.Int64(int64(len(w.buf))),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(sum[:])),
		ContentType:   aws.String(w.detectContentType()),
	})
	if err != nil {
		if isChecksumMismatch(err) {
			return fmt.Errorf("failed to put object s3://%s/%s: %w: %w", w.bucket, w.key, ErrChecksumMismatch, err)
		}
		return fmt.Errorf("failed to put object s3://%s/%s: %w", w.bucket, w.key, err)
	}
	w.metrics.SimpleUpload()
	w.logger.DebugContext(w.ctx, "Object stored", "bucket", w.bucket, "key", w.key, "size", len(w.buf))
	return nil
}

func (w *ObjectWriter) completeMultipart() error {
	w.partNumber++
	payload := w.buf
	w.buf = nil
	w.upload.submitPart(payload, w.partNumber, true)

	parts, err := w.upload.awaitAllParts(w.ctx, int(w.partNumber))
	if err != nil {
		w.upload.abort(w.ctx)
		return w.upload.uploadError(err)
	}
	if err := w.upload.complete(w.ctx, parts); err != nil {
		w.upload.abort(w.ctx)
		return w.upload.uploadError(err)
	}
	return nil
}

func (w *ObjectWriter) release() {
	w.buf = nil
	if w.ownedPool != nil {
		if err := w.ownedPool.Shutdown(context.WithoutCancel(w.ctx)); err != nil {
			w.logger.Warn("Failed to shut down upload pool", "error", err)
		}
	}
}

// PartsSubmitted returns the number of parts handed to the upload session so far
func (w *ObjectWriter) PartsSubmitted() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.partNumber)
}
