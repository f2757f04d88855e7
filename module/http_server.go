package module

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/CrisisTextLine/modular"
)

// GatewayHTTPServer owns the listening socket and wraps the router in the
// gateway-wide middleware chain.
type GatewayHTTPServer struct {
	name        string
	server      *http.Server
	address     string
	router      http.Handler
	middlewares []HTTPMiddleware
	logger      modular.Logger
}

// NewGatewayHTTPServer creates a new HTTP server with the given name and address
func NewGatewayHTTPServer(name, address string) *GatewayHTTPServer {
	return &GatewayHTTPServer{
		name:    name,
		address: address,
	}
}

// Name returns the unique identifier for this module
func (s *GatewayHTTPServer) Name() string {
	return s.name
}

// Init initializes the module with the application context
func (s *GatewayHTTPServer) Init(app modular.Application) error {
	s.logger = app.Logger()
	return nil
}

// AddRouter sets the handler requests are dispatched to.
func (s *GatewayHTTPServer) AddRouter(router http.Handler) {
	s.router = router
}

// Use appends middleware to the chain wrapped around the router. The first
// middleware added is the outermost.
func (s *GatewayHTTPServer) Use(middlewares ...HTTPMiddleware) {
	s.middlewares = append(s.middlewares, middlewares...)
}

// Address returns the address the server listens on.
func (s *GatewayHTTPServer) Address() string {
	return s.address
}

// Handler returns the router wrapped in the middleware chain.
func (s *GatewayHTTPServer) Handler() (http.Handler, error) {
	if s.router == nil {
		return nil, fmt.Errorf("no router configured for HTTP server")
	}

	handler := s.router
	// Apply middlewares in reverse order so they execute in the order they
	// were added
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		handler = s.middlewares[i].Process(handler)
	}
	return handler, nil
}

// Start starts the HTTP server
func (s *GatewayHTTPServer) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:    s.address,
		Handler: handler,
	}

	// Start the server in a goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "address", s.address)
	return nil
}

// Stop stops the HTTP server
func (s *GatewayHTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil // Nothing to stop
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// ProvidesServices returns a list of services provided by this module
func (s *GatewayHTTPServer) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        s.name,
			Description: "HTTP Server",
			Instance:    s,
		},
	}
}

// RequiresServices returns a list of services required by this module
func (s *GatewayHTTPServer) RequiresServices() []modular.ServiceDependency {
	// No required services
	return nil
}
