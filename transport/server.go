package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/fujiwara/ridge"
	"github.com/hashicorp/go-multierror"
	"github.com/mashiike/cloudaws"
	"github.com/mashiike/cloudaws/awsadp"
	"github.com/prometheus/client_golang/prometheus"
)

//go:generate go tool mockgen -source=server.go -destination=mock_server_test.go -package=transport

// Container is the listener container driven by Server
type Container interface {
	cloudaws.StatusProvider
	Start(ctx context.Context) error
	Destroy() error
	HandleSQSEvent(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error)
}

// Server runs a listener container together with its admin endpoints.
// On AWS Lambda the container is not started; SQS events are dispatched
// through HandleSQSEvent and HTTP events are served by the admin handler.
type Server struct {
	// Addr optionally specifies the TCP address for the admin server to listen on.
	// If empty, ":8080" is used.
	Addr string

	// Container is required and cannot be nil.
	Container Container

	// Gatherer backs the /metrics endpoint. If nil, prometheus.DefaultGatherer is used.
	Gatherer prometheus.Gatherer

	// Authenticator specifies the authentication provider for the admin endpoints.
	// If nil, no authentication is required.
	Authenticator Authenticator

	// AutoStartup starts the container when the server runs outside Lambda.
	AutoStartup bool

	Logger *slog.Logger

	LambdaOptions []lambda.Option // Options for AWS Lambda integration

	httpServer  *http.Server
	mux         *http.ServeMux
	middlewares []func(http.Handler) http.Handler
	initialized bool
	mu          sync.Mutex
}

// Use adds HTTP middlewares to the server.
// Middlewares are applied to all HTTP requests in the order they are added.
func (s *Server) Use(middlewares ...func(http.Handler) http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, middlewares...)
}

// Run starts the server and blocks until the server shuts down.
func (s *Server) Run() error {
	return s.RunWithContext(context.Background())
}

// RunWithContext starts the server with the given context and blocks until
// the server shuts down or the context is cancelled.
func (s *Server) RunWithContext(ctx context.Context) error {
	if err := s.initialize(); err != nil {
		return err
	}

	if ridge.OnLambdaRuntime() {
		return s.runOnLambdaRuntime(ctx)
	}

	if s.AutoStartup {
		if err := s.Container.Start(ctx); err != nil {
			return fmt.Errorf("failed to start listener container: %w", err)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		s.Logger.Info("Admin server listening", "addr", s.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		if shutdownErr := s.Shutdown(context.Background()); shutdownErr != nil {
			s.Logger.Error("Failed to shut down after server error", "error", shutdownErr)
		}
		return err
	}
}

func (s *Server) runOnLambdaRuntime(ctx context.Context) error {
	opts := append([]lambda.Option{
		lambda.WithContext(ctx),
	}, s.LambdaOptions...)
	lambda.StartWithOptions(s.lambdaHandler(), opts...)
	return nil
}

func (s *Server) lambdaHandler() func(ctx context.Context, event json.RawMessage) (any, error) {
	return func(ctx context.Context, event json.RawMessage) (any, error) {
		if req, err := ridge.NewRequest(event); err == nil && req.Method != "" && req.URL.Path != "" {
			w := ridge.NewResponseWriter()
			s.httpServer.Handler.ServeHTTP(w, req.WithContext(ctx))
			return w.Response(), nil
		}
		sqsEvent, err := awsadp.ParseSQSEvent(event)
		if err != nil {
			if errors.Is(err, cloudaws.ErrSkipEvent) {
				s.Logger.DebugContext(ctx, "Skipping event processing", "error", err)
				return json.RawMessage(`"skipped"`), nil
			}
			s.Logger.ErrorContext(ctx, "Failed to parse event", "error", err, "payload", string(event))
			return nil, fmt.Errorf("failed to parse event: %w", err)
		}
		resp, err := s.Container.HandleSQSEvent(ctx, sqsEvent)
		if err != nil {
			s.Logger.ErrorContext(ctx, "Failed to handle SQS event", "error", err)
			return nil, fmt.Errorf("failed to handle SQS event: %w", err)
		}
		return resp, nil
	}
}

// Shutdown stops the admin server and destroys the container.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}
	if s.Container != nil {
		if err := s.Container.Destroy(); err != nil {
			result = multierror.Append(result, fmt.Errorf("listener container destroy error: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// Handle registers a custom handler on the admin mux.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mux == nil {
		s.mux = http.NewServeMux()
	}
	s.mux.Handle(pattern, handler)
}

// HandleFunc registers a handler function on the admin mux.
func (s *Server) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.Handle(pattern, http.HandlerFunc(handler))
}

// ServeHTTP serves the admin endpoints and any custom handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.initialize(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	if s.Container == nil {
		return errors.New("Container field is required and cannot be nil")
	}
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Gatherer == nil {
		s.Gatherer = prometheus.DefaultGatherer
	}
	if s.mux == nil {
		s.mux = http.NewServeMux()
	}

	options := []HandlerOption{WithLogger(s.Logger)}
	if s.Authenticator != nil {
		options = append(options, WithAuthenticator(s.Authenticator))
	}
	admin := NewHandler(s.Container, s.Gatherer, options...)
	s.mux.Handle(DefaultHealthPath, admin)
	s.mux.Handle(DefaultStatusPath, admin)
	s.mux.Handle(DefaultMetricsPath, admin)

	s.httpServer = &http.Server{
		Addr:              s.Addr,
		Handler:           s.applyMiddleware(s.mux),
		ReadHeaderTimeout: 30 * time.Second,
	}
	s.initialized = true
	return nil
}

// applyMiddleware applies all registered middlewares to the given handler
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Apply middlewares in registration order (first registered wraps outermost)
	result := handler
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		result = s.middlewares[i](result)
	}
	return result
}

var _ Container = (*awsadp.ListenerContainer)(nil)
