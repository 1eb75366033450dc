package awsadp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/mashiike/cloudaws"
)

var (
	// ErrObjectNotFound is returned when an S3 object does not exist
	ErrObjectNotFound = errors.New("s3 object not found")
	// ErrChecksumMismatch is returned when S3 rejects the Content-MD5 digest of an upload
	ErrChecksumMismatch = errors.New("s3 checksum mismatch")
	// ErrInvalidLocation is returned for locations that are not s3://bucket/key
	ErrInvalidLocation = errors.New("invalid s3 location")
)

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

func isChecksumMismatch(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BadDigest", "InvalidDigest":
			return true
		}
	}
	return false
}

// ParseS3URI splits s3://bucket/key into bucket and key
func ParseS3URI(uri string) (string, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%w %q: %w", ErrInvalidLocation, uri, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w %q: scheme must be s3", ErrInvalidLocation, uri)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("%w %q: missing bucket", ErrInvalidLocation, uri)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("%w %q: missing key", ErrInvalidLocation, uri)
	}
	return u.Host, key, nil
}

// S3ResourceLoaderConfig holds configuration for S3ResourceLoader
type S3ResourceLoaderConfig struct {
	Client S3API
	// ResourceIDResolver maps logical bucket names to physical ones
	ResourceIDResolver cloudaws.ResourceIDResolver
	// Executor is shared by writers created from loaded resources.
	// When nil every writer owns its own pool.
	Executor          cloudaws.TaskExecutor
	PartSize          int
	UploadConcurrency int
	Logger            *slog.Logger
	Metrics           *cloudaws.Metrics
}

// S3ResourceLoader resolves s3://bucket/key locations to resources
type S3ResourceLoader struct {
	cfg S3ResourceLoaderConfig
}

// NewS3ResourceLoader creates a new resource loader
func NewS3ResourceLoader(cfg S3ResourceLoaderConfig) (*S3ResourceLoader, error) {
	if cfg.Client == nil {
		return nil, errors.New("S3 client is required")
	}
	if cfg.PartSize != 0 && cfg.PartSize < cloudaws.MinPartSize {
		return nil, fmt.Errorf("part size %d is smaller than the minimum %d", cfg.PartSize, cloudaws.MinPartSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &S3ResourceLoader{cfg: cfg}, nil
}

// GetResource returns the resource at location. The object need not exist.
func (l *S3ResourceLoader) GetResource(location string) (*S3Resource, error) {
	bucket, key, err := ParseS3URI(location)
	if err != nil {
		return nil, err
	}
	return l.resource(cloudaws.Resolve(l.cfg.ResourceIDResolver, bucket), key), nil
}

func (l *S3ResourceLoader) resource(bucket, key string) *S3Resource {
	return &S3Resource{loader: l, bucket: bucket, key: key}
}

// S3Resource is a handle to a single S3 object
type S3Resource struct {
	loader *S3ResourceLoader
	bucket string
	key    string
}

func (r *S3Resource) Bucket() string { return r.bucket }
func (r *S3Resource) Key() string    { return r.key }

// URI returns the s3:// location of the resource
func (r *S3Resource) URI() string {
	return "s3://" + r.bucket + "/" + r.key
}

// Description returns a human readable description of the resource
func (r *S3Resource) Description() string {
	return fmt.Sprintf("Amazon s3 resource [bucket='%s' and object='%s']", r.bucket, r.key)
}

// Filename returns the object key
func (r *S3Resource) Filename() string {
	return r.key
}

// CreateRelative returns a resource in the same bucket, resolved against the directory of this key
func (r *S3Resource) CreateRelative(relativePath string) *S3Resource {
	key := path.Join(path.Dir(r.key), relativePath)
	return r.loader.resource(r.bucket, strings.TrimPrefix(key, "/"))
}

func (r *S3Resource) head(ctx context.Context) (*s3.HeadObjectOutput, error) {
	out, err := r.loader.cfg.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", r.Description(), ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get metadata of %s: %w", r.URI(), err)
	}
	return out, nil
}

// Exists reports whether the object exists
func (r *S3Resource) Exists(ctx context.Context) (bool, error) {
	_, err := r.head(ctx)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ContentLength returns the object size in bytes
func (r *S3Resource) ContentLength(ctx context.Context) (int64, error) {
	out, err := r.head(ctx)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

// LastModified returns the object modification time
func (r *S3Resource) LastModified(ctx context.Context) (time.Time, error) {
	out, err := r.head(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return aws.ToTime(out.LastModified), nil
}

// Open returns the object body. The caller must close it.
func (r *S3Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := r.loader.cfg.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", r.Description(), ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", r.URI(), err)
	}
	return out.Body, nil
}

// NewWriter returns a writer that replaces the object on Close.
// An empty contentType is detected from the written bytes.
func (r *S3Resource) NewWriter(ctx context.Context, contentType string) (*ObjectWriter, error) {
	cfg := r.loader.cfg
	return NewObjectWriter(ctx, ObjectWriterConfig{
		Client:            cfg.Client,
		Bucket:            r.bucket,
		Key:               r.key,
		PartSize:          cfg.PartSize,
		ContentType:       contentType,
		Executor:          cfg.Executor,
		UploadConcurrency: cfg.UploadConcurrency,
		Logger:            cfg.Logger.With("resource", r.URI()),
		Metrics:           cfg.Metrics,
	})
}
