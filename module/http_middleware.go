package module

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CrisisTextLine/modular"
)

// HTTPMiddleware defines a middleware that can process HTTP requests
type HTTPMiddleware interface {
	Process(next http.Handler) http.Handler
}

// MiddlewareFunc adapts a plain wrapping function to the HTTPMiddleware
// interface.
type MiddlewareFunc func(next http.Handler) http.Handler

// Process implements the HTTPMiddleware interface.
func (f MiddlewareFunc) Process(next http.Handler) http.Handler {
	return f(next)
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RecoveryMiddleware converts handler panics into a JSON 500 response so a
// single bad request cannot take the listener down.
type RecoveryMiddleware struct {
	name   string
	logger modular.Logger
}

// NewRecoveryMiddleware creates a new panic recovery middleware
func NewRecoveryMiddleware(name string) *RecoveryMiddleware {
	return &RecoveryMiddleware{name: name}
}

// Name returns the module name
func (m *RecoveryMiddleware) Name() string {
	return m.name
}

// Init initializes the middleware
func (m *RecoveryMiddleware) Init(app modular.Application) error {
	m.logger = app.Logger()
	return nil
}

// Process implements middleware processing
func (m *RecoveryMiddleware) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				detail := fmt.Sprint(rec)
				if m.logger != nil {
					m.logger.Error("handler panic recovered",
						"method", r.Method, "path", r.URL.Path, "error", detail)
				}
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{"detail": detail})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ProvidesServices returns the services provided by this middleware
func (m *RecoveryMiddleware) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        m.name,
			Description: "HTTP Panic Recovery Middleware",
			Instance:    m,
		},
	}
}

// RequiresServices returns services required by this middleware
func (m *RecoveryMiddleware) RequiresServices() []modular.ServiceDependency {
	// No dependencies required
	return nil
}

// LoggingMiddleware provides request logging
type LoggingMiddleware struct {
	name   string
	logger modular.Logger
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(name string) *LoggingMiddleware {
	return &LoggingMiddleware{name: name}
}

// Name returns the module name
func (m *LoggingMiddleware) Name() string {
	return m.name
}

// Init initializes the middleware
func (m *LoggingMiddleware) Init(app modular.Application) error {
	m.logger = app.Logger()
	return nil
}

// Process implements middleware processing
func (m *LoggingMiddleware) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.logger.Info("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", GetRequestID(r.Context()))
	})
}

// ProvidesServices returns the services provided by this middleware
func (m *LoggingMiddleware) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        m.name,
			Description: "HTTP Logging Middleware",
			Instance:    m,
		},
	}
}

// RequiresServices returns services required by this middleware
func (m *LoggingMiddleware) RequiresServices() []modular.ServiceDependency {
	// No dependencies required
	return nil
}

// CORSMiddleware provides CORS support
type CORSMiddleware struct {
	name           string
	allowedOrigins []string
	allowedMethods []string
}

// NewCORSMiddleware creates a new CORS middleware
func NewCORSMiddleware(name string, allowedOrigins, allowedMethods []string) *CORSMiddleware {
	return &CORSMiddleware{
		name:           name,
		allowedOrigins: allowedOrigins,
		allowedMethods: allowedMethods,
	}
}

// Name returns the module name
func (m *CORSMiddleware) Name() string {
	return m.name
}

// Init initializes the middleware
func (m *CORSMiddleware) Init(app modular.Application) error {
	return nil
}

// Process implements middleware processing
func (m *CORSMiddleware) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range m.allowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(m.allowedMethods, ", "))
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ProvidesServices returns the services provided by this middleware
func (m *CORSMiddleware) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        m.name,
			Description: "HTTP CORS Middleware",
			Instance:    m,
		},
	}
}

// RequiresServices returns services required by this middleware
func (m *CORSMiddleware) RequiresServices() []modular.ServiceDependency {
	// No dependencies required
	return nil
}

// Start is a no-op for this middleware
func (m *CORSMiddleware) Start(ctx context.Context) error {
	return nil
}

// Stop is a no-op for this middleware
func (m *CORSMiddleware) Stop(ctx context.Context) error {
	return nil
}
