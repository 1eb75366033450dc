package cloudaws

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"
)

// Limits and defaults shared by the container and the object writer
const (
	// MinPartSize is the smallest part size accepted by S3 multipart uploads (5 MiB)
	MinPartSize = 5 * 1024 * 1024

	DefaultMaxNumberOfMessages = 10
	DefaultWaitTimeSeconds     = 20
	DefaultBackOffTime         = 10 * time.Second
	DefaultStopTimeout         = 20 * time.Second
	DefaultUploadConcurrency   = 5
)

// Config is the application configuration of cmd/cloudaws
type Config struct {
	LogLevel  string            `yaml:"log_level"`
	AWS       AWSConfig         `yaml:"aws"`
	Resources map[string]string `yaml:"resources"`
	Container ContainerConfig   `yaml:"container"`
	Listeners []ListenerConfig  `yaml:"listeners"`
	Archive   ArchiveConfig     `yaml:"archive"`
	Admin     AdminConfig       `yaml:"admin"`
}

// AWSConfig overrides the default AWS client configuration.
// Endpoint and static credentials target local emulators such as minio or elasticmq.
type AWSConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	S3Endpoint      string `yaml:"s3_endpoint"`
	SQSEndpoint     string `yaml:"sqs_endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// ContainerConfig holds container wide defaults
type ContainerConfig struct {
	MaxNumberOfMessages int           `yaml:"max_number_of_messages"`
	VisibilityTimeout   int           `yaml:"visibility_timeout"`
	WaitTimeSeconds     *int          `yaml:"wait_time_seconds"`
	BackOffTime         time.Duration `yaml:"back_off_time"`
	StopTimeout         time.Duration `yaml:"stop_timeout"`
	AutoStartup         *bool         `yaml:"auto_startup"`
	PoolSize            int           `yaml:"pool_size"`
	DeletionPolicy      string        `yaml:"deletion_policy"`
}

// ListenerConfig configures one queue listener. Zero values inherit container defaults.
type ListenerConfig struct {
	Queue               string `yaml:"queue"`
	SendTo              string `yaml:"send_to"`
	MaxNumberOfMessages int    `yaml:"max_number_of_messages"`
	VisibilityTimeout   int    `yaml:"visibility_timeout"`
	WaitTimeSeconds     *int   `yaml:"wait_time_seconds"`
	Concurrency         int    `yaml:"concurrency"`
}

// ArchiveConfig configures the S3 location messages are archived to
type ArchiveConfig struct {
	Bucket            string `yaml:"bucket"`
	Prefix            string `yaml:"prefix"`
	PartSize          int    `yaml:"part_size"`
	ContentType       string `yaml:"content_type"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
}

// AdminConfig configures the admin HTTP surface
type AdminConfig struct {
	Addr        string `yaml:"addr"`
	APIKey      string `yaml:"api_key"`
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
}

// LoadConfig reads a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return ReadConfig(f)
}

// ReadConfig decodes YAML configuration, expands ${ENV} references,
// applies defaults and validates the result.
func ReadConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.UnmarshalStrict([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills unset container fields
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Container.MaxNumberOfMessages == 0 {
		c.Container.MaxNumberOfMessages = DefaultMaxNumberOfMessages
	}
	if c.Container.WaitTimeSeconds == nil {
		wait := DefaultWaitTimeSeconds
		c.Container.WaitTimeSeconds = &wait
	}
	if c.Container.BackOffTime == 0 {
		c.Container.BackOffTime = DefaultBackOffTime
	}
	if c.Container.StopTimeout == 0 {
		c.Container.StopTimeout = DefaultStopTimeout
	}
	if c.Container.AutoStartup == nil {
		autoStartup := true
		c.Container.AutoStartup = &autoStartup
	}
	if c.Archive.PartSize == 0 {
		c.Archive.PartSize = MinPartSize
	}
	if c.Archive.UploadConcurrency == 0 {
		c.Archive.UploadConcurrency = DefaultUploadConcurrency
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8080"
	}
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var result *multierror.Error
	if _, err := c.SlogLevel(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateReceiveSettings("container", c.Container.MaxNumberOfMessages, c.Container.VisibilityTimeout, c.Container.WaitTimeSeconds); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Container.BackOffTime < 0 {
		result = multierror.Append(result, fmt.Errorf("container: back_off_time must not be negative"))
	}
	if c.Container.StopTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("container: stop_timeout must not be negative"))
	}
	if c.Container.PoolSize < 0 {
		result = multierror.Append(result, fmt.Errorf("container: pool_size must not be negative"))
	}
	if _, err := ParseDeletionPolicy(c.Container.DeletionPolicy); err != nil {
		result = multierror.Append(result, fmt.Errorf("container: %w", err))
	}
	if len(c.Listeners) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one listener is required"))
	}
	seen := make(map[string]struct{}, len(c.Listeners))
	for i, l := range c.Listeners {
		name := fmt.Sprintf("listeners[%d]", i)
		if l.Queue == "" {
			result = multierror.Append(result, fmt.Errorf("%s: queue is required", name))
			continue
		}
		if _, dup := seen[l.Queue]; dup {
			result = multierror.Append(result, fmt.Errorf("%s: duplicate queue %q", name, l.Queue))
		}
		seen[l.Queue] = struct{}{}
		if err := validateReceiveSettings(name, l.MaxNumberOfMessages, l.VisibilityTimeout, l.WaitTimeSeconds); err != nil {
			result = multierror.Append(result, err)
		}
		if l.Concurrency < 0 {
			result = multierror.Append(result, fmt.Errorf("%s: concurrency must not be negative", name))
		}
	}
	if c.Container.PoolSize > 0 && c.Container.PoolSize <= len(c.Listeners) {
		result = multierror.Append(result, fmt.Errorf("container: pool_size must exceed the number of listeners (%d)", len(c.Listeners)))
	}
	if c.Archive.Bucket == "" {
		result = multierror.Append(result, fmt.Errorf("archive: bucket is required"))
	}
	if c.Archive.PartSize < MinPartSize {
		result = multierror.Append(result, fmt.Errorf("archive: part_size must be at least %d bytes", MinPartSize))
	}
	if c.Archive.UploadConcurrency < 0 {
		result = multierror.Append(result, fmt.Errorf("archive: upload_concurrency must not be negative"))
	}
	return result.ErrorOrNil()
}

func validateReceiveSettings(name string, maxMessages, visibility int, wait *int) error {
	var result *multierror.Error
	// zero means inherit
	if maxMessages < 0 || maxMessages > 10 {
		result = multierror.Append(result, fmt.Errorf("%s: max_number_of_messages must be between 1 and 10", name))
	}
	if visibility < 0 {
		result = multierror.Append(result, fmt.Errorf("%s: visibility_timeout must not be negative", name))
	}
	if wait != nil && (*wait < 0 || *wait > 20) {
		result = multierror.Append(result, fmt.Errorf("%s: wait_time_seconds must be between 0 and 20", name))
	}
	return result.ErrorOrNil()
}

// SlogLevel returns the configured log level
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}

// DeletionPolicyValue returns the parsed container deletion policy
func (c *Config) DeletionPolicyValue() DeletionPolicy {
	p, _ := ParseDeletionPolicy(c.Container.DeletionPolicy)
	return p
}

// ResourceIDResolver returns a resolver backed by the resources map
func (c *Config) ResourceIDResolver() ResourceIDResolver {
	if len(c.Resources) == 0 {
		return PassthroughResolver
	}
	return StaticResourceIDResolver(c.Resources)
}
