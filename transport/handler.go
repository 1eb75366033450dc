package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mashiike/cloudaws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default admin endpoint paths
const (
	DefaultHealthPath  = "/healthz"
	DefaultStatusPath  = "/status"
	DefaultMetricsPath = "/metrics"
)

// HandlerOption defines configuration option for Handler
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	healthPath    string
	statusPath    string
	metricsPath   string
	logger        *slog.Logger
	authenticator Authenticator
}

// WithAuthenticator protects the status and metrics endpoints
func WithAuthenticator(auth Authenticator) HandlerOption {
	return func(c *handlerConfig) {
		c.authenticator = auth
	}
}

// WithLogger sets an optional logger for debug output
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(c *handlerConfig) {
		c.logger = logger
	}
}

// WithHealthPath sets the health check path (default: "/healthz")
func WithHealthPath(path string) HandlerOption {
	return func(c *handlerConfig) {
		c.healthPath = path
	}
}

// WithStatusPath sets the status path (default: "/status")
func WithStatusPath(path string) HandlerOption {
	return func(c *handlerConfig) {
		c.statusPath = path
	}
}

// WithMetricsPath sets the metrics path (default: "/metrics")
func WithMetricsPath(path string) HandlerOption {
	return func(c *handlerConfig) {
		c.metricsPath = path
	}
}

// Handler serves the admin endpoints of a listener container
type Handler struct {
	status  cloudaws.StatusProvider
	metrics http.Handler
	config  handlerConfig
}

// NewHandler creates the admin handler. A nil gatherer disables the metrics endpoint.
func NewHandler(status cloudaws.StatusProvider, gatherer prometheus.Gatherer, options ...HandlerOption) *Handler {
	config := handlerConfig{
		healthPath:  DefaultHealthPath,
		statusPath:  DefaultStatusPath,
		metricsPath: DefaultMetricsPath,
		logger:      slog.Default(),
	}
	for _, option := range options {
		option(&config)
	}
	h := &Handler{
		status: status,
		config: config,
	}
	if gatherer != nil {
		h.metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return h
}

// ServeHTTP implements http.Handler interface
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Health check is used by load balancers and never requires credentials
	if r.URL.Path == h.config.healthPath {
		h.handleHealth(w, r)
		return
	}

	var next http.Handler
	switch {
	case r.URL.Path == h.config.statusPath:
		next = http.HandlerFunc(h.handleStatus)
	case r.URL.Path == h.config.metricsPath && h.metrics != nil:
		next = h.metrics
	default:
		http.NotFound(w, r)
		return
	}

	if h.config.authenticator != nil {
		newReq, err := h.config.authenticator.Authenticate(r.Context(), r)
		if err != nil {
			h.config.logger.Debug("Admin request rejected", "path", r.URL.Path, "error", err)
			writeAuthError(w, err)
			return
		}
		r = newReq
	}
	next.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := h.status.Status().State
	code := http.StatusOK
	if state != cloudaws.StateRunning {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"state": state.String()})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeAuthError writes an authentication error response
func writeAuthError(w http.ResponseWriter, err error) {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		authErr = NewAuthError(AuthErrorCodeInvalidCredentials, "Authentication required")
	}
	writeJSON(w, http.StatusUnauthorized, authErr)
}
