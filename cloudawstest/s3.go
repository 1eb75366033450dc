// Package cloudawstest provides in-memory fakes of the AWS clients used by cloudaws.
// The fakes satisfy the narrow client interfaces of the awsadp package so that
// writers, resources and listener containers can be tested without minio or elasticmq.
package cloudawstest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/Songmu/flextime"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// FakeObject is an object stored in FakeS3
type FakeObject struct {
	Body         []byte
	ContentType  string
	ContentMD5   string
	LastModified time.Time
	// Multipart reports whether the object was assembled from a multipart upload
	Multipart bool
}

// UploadPartCall records one UploadPart request
type UploadPartCall struct {
	UploadID   string
	PartNumber int32
	Size       int
}

type fakeUpload struct {
	bucket      string
	key         string
	contentType string
	parts       map[int32][]byte
	etags       map[int32]string
}

// FakeS3 is an in-memory S3 client
type FakeS3 struct {
	// UploadPartHook is called before a part is stored. A non-nil error fails the part.
	UploadPartHook func(ctx context.Context, input *s3.UploadPartInput) error
	// UploadPartDelay delays every UploadPart call, honoring context cancellation
	UploadPartDelay time.Duration
	// CompleteHook is called before a multipart upload is completed. A non-nil error fails it.
	CompleteHook func(ctx context.Context, input *s3.CompleteMultipartUploadInput) error
	// PutObjectHook is called before a simple put is stored. A non-nil error fails it.
	PutObjectHook func(ctx context.Context, input *s3.PutObjectInput) error
	// AbortHook is called before a multipart upload is aborted. A non-nil error fails the abort.
	AbortHook func(ctx context.Context, input *s3.AbortMultipartUploadInput) error

	mu        sync.Mutex
	objects   map[string]*FakeObject
	uploads   map[string]*fakeUpload
	nextID    int
	puts      []*s3.PutObjectInput
	creates   []*s3.CreateMultipartUploadInput
	parts     []UploadPartCall
	completes []*s3.CompleteMultipartUploadInput
	aborts    []string
}

// NewFakeS3 creates an empty FakeS3
func NewFakeS3() *FakeS3 {
	return &FakeS3{
		objects: make(map[string]*FakeObject),
		uploads: make(map[string]*fakeUpload),
	}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// PutFakeObject stores an object directly
func (f *FakeS3) PutFakeObject(bucket, key string, body []byte, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectKey(bucket, key)] = &FakeObject{
		Body:         append([]byte(nil), body...),
		ContentType:  contentType,
		LastModified: flextime.Now(),
	}
}

// Object returns a stored object
func (f *FakeS3) Object(bucket, key string) (*FakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectKey(bucket, key)]
	return obj, ok
}

func (f *FakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectKey(aws.ToString(params.Bucket), aws.ToString(params.Key))]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.Body))),
		ContentType:   aws.String(obj.ContentType),
		LastModified:  aws.Time(obj.LastModified),
	}, nil
}

func (f *FakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectKey(aws.ToString(params.Bucket), aws.ToString(params.Key))]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.Body)),
		ContentLength: aws.Int64(int64(len(obj.Body))),
		ContentType:   aws.String(obj.ContentType),
		LastModified:  aws.Time(obj.LastModified),
	}, nil
}

func (f *FakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.PutObjectHook != nil {
		if err := f.PutObjectHook(ctx, params); err != nil {
			return nil, err
		}
	}
	var body []byte
	if params.Body != nil {
		var err error
		body, err = io.ReadAll(params.Body)
		if err != nil {
			return nil, err
		}
	}
	if params.ContentLength != nil && *params.ContentLength != int64(len(body)) {
		return nil, &smithy.GenericAPIError{Code: "IncompleteBody", Message: "content length mismatch"}
	}
	sum := md5.Sum(body)
	if md5Header := aws.ToString(params.ContentMD5); md5Header != "" {
		if md5Header != base64.StdEncoding.EncodeToString(sum[:]) {
			return nil, &smithy.GenericAPIError{Code: "BadDigest", Message: "The Content-MD5 you specified did not match what we received."}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, params)
	f.objects[objectKey(aws.ToString(params.Bucket), aws.ToString(params.Key))] = &FakeObject{
		Body:         body,
		ContentType:  aws.ToString(params.ContentType),
		ContentMD5:   aws.ToString(params.ContentMD5),
		LastModified: flextime.Now(),
	}
	return &s3.PutObjectOutput{ETag: aws.String(`"` + hex.EncodeToString(sum[:]) + `"`)}, nil
}

func (f *FakeS3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	uploadID := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[uploadID] = &fakeUpload{
		bucket:      aws.ToString(params.Bucket),
		key:         aws.ToString(params.Key),
		contentType: aws.ToString(params.ContentType),
		parts:       make(map[int32][]byte),
		etags:       make(map[int32]string),
	}
	f.creates = append(f.creates, params)
	return &s3.CreateMultipartUploadOutput{
		Bucket:   params.Bucket,
		Key:      params.Key,
		UploadId: aws.String(uploadID),
	}, nil
}

func (f *FakeS3) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if f.UploadPartDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.UploadPartDelay):
		}
	}
	if f.UploadPartHook != nil {
		if err := f.UploadPartHook(ctx, params); err != nil {
			return nil, err
		}
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	uploadID := aws.ToString(params.UploadId)
	f.parts = append(f.parts, UploadPartCall{
		UploadID:   uploadID,
		PartNumber: aws.ToInt32(params.PartNumber),
		Size:       len(body),
	})
	upload, ok := f.uploads[uploadID]
	if !ok {
		return nil, &types.NoSuchUpload{Message: aws.String("upload does not exist")}
	}
	sum := md5.Sum(body)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	upload.parts[aws.ToInt32(params.PartNumber)] = body
	upload.etags[aws.ToInt32(params.PartNumber)] = etag
	return &s3.UploadPartOutput{ETag: aws.String(etag)}, nil
}

func (f *FakeS3) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if f.CompleteHook != nil {
		if err := f.CompleteHook(ctx, params); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, params)
	uploadID := aws.ToString(params.UploadId)
	upload, ok := f.uploads[uploadID]
	if !ok {
		return nil, &types.NoSuchUpload{Message: aws.String("upload does not exist")}
	}
	if params.MultipartUpload == nil || len(params.MultipartUpload.Parts) == 0 {
		return nil, &smithy.GenericAPIError{Code: "MalformedXML", Message: "no parts"}
	}
	var buf bytes.Buffer
	var prev int32
	for _, part := range params.MultipartUpload.Parts {
		n := aws.ToInt32(part.PartNumber)
		if n <= prev {
			return nil, &smithy.GenericAPIError{Code: "InvalidPartOrder", Message: "parts must be in ascending order"}
		}
		prev = n
		body, ok := upload.parts[n]
		if !ok || upload.etags[n] != aws.ToString(part.ETag) {
			return nil, &smithy.GenericAPIError{Code: "InvalidPart", Message: fmt.Sprintf("part %d not found", n)}
		}
		buf.Write(body)
	}
	delete(f.uploads, uploadID)
	f.objects[objectKey(upload.bucket, upload.key)] = &FakeObject{
		Body:         buf.Bytes(),
		ContentType:  upload.contentType,
		LastModified: flextime.Now(),
		Multipart:    true,
	}
	return &s3.CompleteMultipartUploadOutput{
		Bucket: aws.String(upload.bucket),
		Key:    aws.String(upload.key),
	}, nil
}

func (f *FakeS3) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	if f.AbortHook != nil {
		if err := f.AbortHook(ctx, params); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	uploadID := aws.ToString(params.UploadId)
	f.aborts = append(f.aborts, uploadID)
	if _, ok := f.uploads[uploadID]; !ok {
		return nil, &types.NoSuchUpload{Message: aws.String("upload does not exist")}
	}
	delete(f.uploads, uploadID)
	return &s3.AbortMultipartUploadOutput{}, nil
}

// PutObjectInputs returns every successful PutObject request
func (f *FakeS3) PutObjectInputs() []*s3.PutObjectInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*s3.PutObjectInput(nil), f.puts...)
}

// CreateMultipartUploadInputs returns every CreateMultipartUpload request
func (f *FakeS3) CreateMultipartUploadInputs() []*s3.CreateMultipartUploadInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*s3.CreateMultipartUploadInput(nil), f.creates...)
}

// UploadPartCalls returns every stored part sorted by upload id and part number
func (f *FakeS3) UploadPartCalls() []UploadPartCall {
	f.mu.Lock()
	calls := append([]UploadPartCall(nil), f.parts...)
	f.mu.Unlock()
	sort.Slice(calls, func(i, j int) bool {
		if calls[i].UploadID != calls[j].UploadID {
			return calls[i].UploadID < calls[j].UploadID
		}
		return calls[i].PartNumber < calls[j].PartNumber
	})
	return calls
}

// CompleteMultipartUploadInputs returns every CompleteMultipartUpload request
func (f *FakeS3) CompleteMultipartUploadInputs() []*s3.CompleteMultipartUploadInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*s3.CompleteMultipartUploadInput(nil), f.completes...)
}

// AbortedUploads returns the upload ids passed to AbortMultipartUpload
func (f *FakeS3) AbortedUploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.aborts...)
}

// PendingUploads returns the number of multipart uploads neither completed nor aborted
func (f *FakeS3) PendingUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}
