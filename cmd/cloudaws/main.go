package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/joho/godotenv/autoload"
	"github.com/mashiike/cloudaws"
	"github.com/mashiike/cloudaws/awsadp"
	"github.com/mashiike/cloudaws/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", envOr("CLOUDAWS_CONFIG", "cloudaws.yaml"), "path to the configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath); err != nil {
		slog.Error("cloudaws exited with error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func run(ctx context.Context, configPath string) error {
	cfg, err := cloudaws.LoadConfig(configPath)
	if err != nil {
		return err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if ep := firstNonEmpty(cfg.AWS.S3Endpoint, cfg.AWS.Endpoint); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		o.UsePathStyle = cfg.AWS.UsePathStyle
	})
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if ep := firstNonEmpty(cfg.AWS.SQSEndpoint, cfg.AWS.Endpoint); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	})
	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := cloudaws.NewMetrics(registry)
	resolver := cfg.ResourceIDResolver()

	executor, shutdownExecutor := newExecutor(cfg, logger)
	defer shutdownExecutor(ctx)

	container, err := newContainer(cfg, logger, metrics, resolver, executor, s3Client, sqsClient, snsClient)
	if err != nil {
		return err
	}

	server := &transport.Server{
		Addr:          cfg.Admin.Addr,
		Container:     container,
		Gatherer:      registry,
		Authenticator: newAuthenticator(cfg.Admin),
		AutoStartup:   *cfg.Container.AutoStartup,
		Logger:        logger,
	}
	return server.RunWithContext(ctx)
}

// newExecutor builds the shared worker pool when pool_size is set.
// The container does not own it, so the returned func drains it.
func newExecutor(cfg *cloudaws.Config, logger *slog.Logger) (cloudaws.TaskExecutor, func(context.Context)) {
	if cfg.Container.PoolSize <= 0 {
		return nil, func(context.Context) {}
	}
	pool := cloudaws.NewWorkerPool(cfg.Container.PoolSize)
	return pool, func(ctx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Container.StopTimeout)
		defer cancel()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down worker pool", "error", err)
		}
	}
}

func newContainer(
	cfg *cloudaws.Config,
	logger *slog.Logger,
	metrics *cloudaws.Metrics,
	resolver cloudaws.ResourceIDResolver,
	executor cloudaws.TaskExecutor,
	s3Client *s3.Client,
	sqsClient *sqs.Client,
	snsClient *sns.Client,
) (*awsadp.ListenerContainer, error) {
	loader, err := awsadp.NewS3ResourceLoader(awsadp.S3ResourceLoaderConfig{
		Client:             s3Client,
		ResourceIDResolver: resolver,
		PartSize:           cfg.Archive.PartSize,
		UploadConcurrency:  cfg.Archive.UploadConcurrency,
		Logger:             logger,
		Metrics:            metrics,
	})
	if err != nil {
		return nil, err
	}
	archive, err := awsadp.NewArchiveHandler(awsadp.ArchiveHandlerConfig{
		Loader:      loader,
		Bucket:      cfg.Archive.Bucket,
		Prefix:      cfg.Archive.Prefix,
		ContentType: cfg.Archive.ContentType,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	queues, err := awsadp.NewQueueMessagingTemplate(awsadp.QueueMessagingTemplateConfig{
		Client:             sqsClient,
		ResourceIDResolver: resolver,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}
	topics, err := awsadp.NewNotificationMessagingTemplate(awsadp.NotificationMessagingTemplateConfig{
		Client:             snsClient,
		ResourceIDResolver: resolver,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	listeners := make([]awsadp.Listener, 0, len(cfg.Listeners))
	for _, l := range cfg.Listeners {
		listener := awsadp.Listener{
			Queue:               l.Queue,
			Handler:             archive,
			SendTo:              l.SendTo,
			MaxNumberOfMessages: int32(l.MaxNumberOfMessages),
			VisibilityTimeout:   int32(l.VisibilityTimeout),
			Concurrency:         l.Concurrency,
		}
		if l.WaitTimeSeconds != nil {
			listener.WaitTimeSeconds = aws.Int32(int32(*l.WaitTimeSeconds))
		}
		listeners = append(listeners, listener)
	}

	container, err := awsadp.NewListenerContainer(awsadp.ListenerContainerConfig{
		Client:              sqsClient,
		Listeners:           listeners,
		Executor:            executor,
		ResourceIDResolver:  resolver,
		ErrorHandler:        cloudaws.LoggingErrorHandler(logger),
		ReplySender:         &awsadp.DestinationSender{Queues: queues, Topics: topics, ResourceIDResolver: resolver},
		DeletionPolicy:      cfg.DeletionPolicyValue(),
		MaxNumberOfMessages: int32(cfg.Container.MaxNumberOfMessages),
		VisibilityTimeout:   int32(cfg.Container.VisibilityTimeout),
		WaitTimeSeconds:     aws.Int32(int32(*cfg.Container.WaitTimeSeconds)),
		BackOffTime:         cfg.Container.BackOffTime,
		StopTimeout:         cfg.Container.StopTimeout,
		Logger:              logger,
		Metrics:             metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listener container: %w", err)
	}
	return container, nil
}

func loadAWSConfig(ctx context.Context, c cloudaws.AWSConfig) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

func newAuthenticator(c cloudaws.AdminConfig) transport.Authenticator {
	switch {
	case c.JWTSecret != "":
		auth := transport.NewJWTAuthenticator([]byte(c.JWTSecret))
		if c.JWTAudience != "" {
			auth = auth.WithAudience(c.JWTAudience)
		}
		return auth
	case c.APIKey != "":
		return transport.StaticAPIKeyAuthenticator{APIKey: c.APIKey}
	default:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
