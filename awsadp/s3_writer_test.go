package awsadp

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/hashicorp/go-multierror"
	"github.com/mashiike/cloudaws"
	"github.com/mashiike/cloudaws/cloudawstest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

func testPayload(size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return p
}

func writeChunks(t *testing.T, w *ObjectWriter, payload []byte, chunk int) {
	t.Helper()
	for off := 0; off < len(payload); off += chunk {
		end := min(off+chunk, len(payload))
		n, err := w.Write(payload[off:end])
		require.NoError(t, err)
		require.Equal(t, end-off, n)
	}
}

func newTestWriter(t *testing.T, ctx context.Context, fake *cloudawstest.FakeS3, key string) *ObjectWriter {
	t.Helper()
	w, err := NewObjectWriter(ctx, ObjectWriterConfig{
		Client: fake,
		Bucket: "test-bucket",
		Key:    key,
	})
	require.NoError(t, err)
	return w
}

func TestObjectWriter_SimplePut(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	w := newTestWriter(t, context.Background(), fake, "small.txt")

	_, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	puts := fake.PutObjectInputs()
	require.Len(t, puts, 1)
	sum := md5.Sum([]byte("hello world"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), aws.ToString(puts[0].ContentMD5))
	assert.Equal(t, int64(11), aws.ToInt64(puts[0].ContentLength))
	assert.Equal(t, "text/plain; charset=utf-8", aws.ToString(puts[0].ContentType))
	assert.Empty(t, fake.CreateMultipartUploadInputs())

	obj, ok := fake.Object("test-bucket", "small.txt")
	require.True(t, ok)
	assert.Equal(t, "hello world", string(obj.Body))
	assert.False(t, obj.Multipart)
}

func TestObjectWriter_EmptyObject(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	w := newTestWriter(t, context.Background(), fake, "empty")
	require.NoError(t, w.Close())

	obj, ok := fake.Object("test-bucket", "empty")
	require.True(t, ok)
	assert.Empty(t, obj.Body)
}

func TestObjectWriter_ExactlyOnePartUsesSinglePut(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	w := newTestWriter(t, context.Background(), fake, "exact.bin")

	payload := testPayload(5 * mib)
	writeChunks(t, w, payload, mib)
	require.NoError(t, w.Close())

	assert.Len(t, fake.PutObjectInputs(), 1)
	assert.Empty(t, fake.CreateMultipartUploadInputs())
	assert.Empty(t, fake.UploadPartCalls())
	obj, ok := fake.Object("test-bucket", "exact.bin")
	require.True(t, ok)
	assert.True(t, bytes.Equal(payload, obj.Body))
}

func TestObjectWriter_Multipart(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunk     int
		wantParts []int
	}{
		{name: "one byte over a part", size: 5*mib + 1, chunk: mib, wantParts: []int{5 * mib, 1}},
		{name: "twelve MiB", size: 12 * mib, chunk: mib, wantParts: []int{5 * mib, 5 * mib, 2 * mib}},
		{name: "single large write", size: 11 * mib, chunk: 11 * mib, wantParts: []int{5 * mib, 5 * mib, mib}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := cloudawstest.NewFakeS3()
			w := newTestWriter(t, context.Background(), fake, "large.bin")

			payload := testPayload(tt.size)
			writeChunks(t, w, payload, tt.chunk)
			require.NoError(t, w.Close())

			assert.Empty(t, fake.PutObjectInputs())
			require.Len(t, fake.CreateMultipartUploadInputs(), 1)

			calls := fake.UploadPartCalls()
			require.Len(t, calls, len(tt.wantParts))
			for i, c := range calls {
				assert.Equal(t, int32(i+1), c.PartNumber)
				assert.Equal(t, tt.wantParts[i], c.Size)
			}

			completes := fake.CompleteMultipartUploadInputs()
			require.Len(t, completes, 1)
			parts := completes[0].MultipartUpload.Parts
			require.Len(t, parts, len(tt.wantParts))
			for i, p := range parts {
				assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
			}

			obj, ok := fake.Object("test-bucket", "large.bin")
			require.True(t, ok)
			assert.True(t, obj.Multipart)
			assert.True(t, bytes.Equal(payload, obj.Body))
			assert.Equal(t, 0, fake.PendingUploads())
			assert.Empty(t, fake.AbortedUploads())
		})
	}
}

func TestObjectWriter_CompletesInAscendingOrderWhenPartsFinishOutOfOrder(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	fake.UploadPartHook = func(ctx context.Context, input *s3.UploadPartInput) error {
		// earlier parts finish later
		time.Sleep(time.Duration(5-aws.ToInt32(input.PartNumber)) * 10 * time.Millisecond)
		return nil
	}
	w := newTestWriter(t, context.Background(), fake, "ordered.bin")
	payload := testPayload(16 * mib)
	writeChunks(t, w, payload, mib)
	require.NoError(t, w.Close())

	completes := fake.CompleteMultipartUploadInputs()
	require.Len(t, completes, 1)
	var numbers []int32
	for _, p := range completes[0].MultipartUpload.Parts {
		numbers = append(numbers, aws.ToInt32(p.PartNumber))
	}
	assert.Equal(t, []int32{1, 2, 3, 4}, numbers)
	obj, _ := fake.Object("test-bucket", "ordered.bin")
	assert.True(t, bytes.Equal(payload, obj.Body))
}

func TestObjectWriter_PartFailureAbortsUpload(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	fake.UploadPartHook = func(ctx context.Context, input *s3.UploadPartInput) error {
		if aws.ToInt32(input.PartNumber) == 2 {
			return errors.New("connection reset")
		}
		return nil
	}
	w := newTestWriter(t, context.Background(), fake, "broken.bin")
	writeChunks(t, w, testPayload(12*mib), mib)

	err := w.Close()
	require.Error(t, err)
	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, "test-bucket", uploadErr.Bucket)
	assert.Equal(t, "broken.bin", uploadErr.Key)
	assert.Contains(t, err.Error(), "failed to upload part 2")

	assert.Empty(t, fake.CompleteMultipartUploadInputs())
	assert.Equal(t, []string{uploadErr.UploadID}, fake.AbortedUploads())
	assert.Equal(t, 0, fake.PendingUploads())
	_, ok := fake.Object("test-bucket", "broken.bin")
	assert.False(t, ok)
	// the remaining parts were still drained before aborting
	assert.Len(t, fake.UploadPartCalls(), 2)
}

func TestObjectWriter_AggregatesEveryPartFailure(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	fake.UploadPartHook = func(ctx context.Context, input *s3.UploadPartInput) error {
		if n := aws.ToInt32(input.PartNumber); n == 1 || n == 3 {
			return errors.New("throttled")
		}
		return nil
	}
	w := newTestWriter(t, context.Background(), fake, "multi-fail.bin")
	writeChunks(t, w, testPayload(12*mib), mib)

	err := w.Close()
	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	var merr *multierror.Error
	require.ErrorAs(t, uploadErr.Err, &merr)
	require.Len(t, merr.Errors, 2)
	assert.Contains(t, merr.Errors[0].Error(), "part 1")
	assert.Contains(t, merr.Errors[1].Error(), "part 3")
	assert.Len(t, fake.AbortedUploads(), 1)
}

func TestObjectWriter_CompleteFailureAbortsUpload(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	fake.CompleteHook = func(ctx context.Context, input *s3.CompleteMultipartUploadInput) error {
		return &smithy.GenericAPIError{Code: "InternalError", Message: "try again"}
	}
	w := newTestWriter(t, context.Background(), fake, "complete-fail.bin")
	writeChunks(t, w, testPayload(6*mib), mib)

	err := w.Close()
	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Contains(t, err.Error(), "failed to complete multipart upload")
	assert.Len(t, fake.AbortedUploads(), 1)
	assert.Equal(t, 0, fake.PendingUploads())
}

func TestObjectWriter_ContextCancelAbortsUpload(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	fake.UploadPartDelay = 5 * time.Second
	ctx, cancel := context.WithCancel(context.Background())
	w := newTestWriter(t, ctx, fake, "cancel.bin")
	writeChunks(t, w, testPayload(6*mib), mib)

	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	err := w.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, fake.AbortedUploads(), 1)
	assert.Empty(t, fake.CompleteMultipartUploadInputs())
}

func TestObjectWriter_ChecksumMismatch(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	fake.PutObjectHook = func(ctx context.Context, input *s3.PutObjectInput) error {
		return &smithy.GenericAPIError{Code: "BadDigest", Message: "digest mismatch"}
	}
	w := newTestWriter(t, context.Background(), fake, "digest.txt")
	_, err := w.Write([]byte("payload"))
	require.NoError(t, err)

	err = w.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestObjectWriter_Closed(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	w := newTestWriter(t, context.Background(), fake, "closed.txt")
	require.NoError(t, w.Close())

	_, err := w.Write([]byte("late"))
	assert.ErrorIs(t, err, fs.ErrClosed)
	assert.ErrorIs(t, w.Close(), fs.ErrClosed)
}

func TestObjectWriter_ExplicitContentTypeAndSharedExecutor(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	pool := cloudaws.NewWorkerPool(2)
	w, err := NewObjectWriter(context.Background(), ObjectWriterConfig{
		Client:      fake,
		Bucket:      "test-bucket",
		Key:         "data.json",
		ContentType: "application/json",
		Executor:    pool,
	})
	require.NoError(t, err)
	writeChunks(t, w, testPayload(7*mib), mib)
	require.NoError(t, w.Close())

	creates := fake.CreateMultipartUploadInputs()
	require.Len(t, creates, 1)
	assert.Equal(t, "application/json", aws.ToString(creates[0].ContentType))
	assert.False(t, pool.IsShutdown(), "a shared executor must outlive the writer")
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestNewObjectWriter_Validation(t *testing.T) {
	fake := cloudawstest.NewFakeS3()
	ctx := context.Background()

	_, err := NewObjectWriter(ctx, ObjectWriterConfig{Bucket: "b", Key: "k"})
	assert.Error(t, err)
	_, err = NewObjectWriter(ctx, ObjectWriterConfig{Client: fake, Key: "k"})
	assert.Error(t, err)
	_, err = NewObjectWriter(ctx, ObjectWriterConfig{Client: fake, Bucket: "b"})
	assert.Error(t, err)
	_, err = NewObjectWriter(ctx, ObjectWriterConfig{Client: fake, Bucket: "b", Key: "k", PartSize: mib})
	assert.Error(t, err)

	w, err := NewObjectWriter(ctx, ObjectWriterConfig{Client: fake, Bucket: "b", Key: "k", PartSize: 8 * mib})
	require.NoError(t, err)
	writeChunks(t, w, testPayload(9*mib), mib)
	require.NoError(t, w.Close())
	calls := fake.UploadPartCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, 8*mib, calls[0].Size)
	assert.Equal(t, 2, w.PartsSubmitted())
}

func TestObjectWriter_AbortMetrics(t *testing.T) {
	const expected = `
# HELP cloudaws_upload_multipart_abort_failures_total Number of multipart uploads that could not be aborted.
# TYPE cloudaws_upload_multipart_abort_failures_total counter
cloudaws_upload_multipart_abort_failures_total %d
# HELP cloudaws_upload_multipart_aborted_total Number of aborted multipart uploads.
# TYPE cloudaws_upload_multipart_aborted_total counter
cloudaws_upload_multipart_aborted_total %d
`
	tests := []struct {
		name     string
		abortErr error
		aborted  int
		failed   int
		pending  int
	}{
		{name: "aborted", aborted: 1},
		{name: "abort fails", abortErr: errors.New("access denied"), failed: 1, pending: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := cloudawstest.NewFakeS3()
			fake.CompleteHook = func(ctx context.Context, input *s3.CompleteMultipartUploadInput) error {
				return &smithy.GenericAPIError{Code: "InternalError", Message: "try again"}
			}
			fake.AbortHook = func(ctx context.Context, input *s3.AbortMultipartUploadInput) error {
				return tt.abortErr
			}
			reg := prometheus.NewRegistry()
			w, err := NewObjectWriter(context.Background(), ObjectWriterConfig{
				Client:  fake,
				Bucket:  "test-bucket",
				Key:     "abort.bin",
				Metrics: cloudaws.NewMetrics(reg),
			})
			require.NoError(t, err)
			writeChunks(t, w, testPayload(6*mib), mib)

			require.Error(t, w.Close())
			assert.Equal(t, tt.pending, fake.PendingUploads())
			assert.NoError(t, testutil.GatherAndCompare(reg,
				strings.NewReader(fmt.Sprintf(expected, tt.failed, tt.aborted)),
				"cloudaws_upload_multipart_aborted_total",
				"cloudaws_upload_multipart_abort_failures_total",
			))
		})
	}
}
