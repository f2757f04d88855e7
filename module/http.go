package module

import (
	"net/http"
)

// HTTPHandler is the handler contract routes are registered with.
type HTTPHandler interface {
	Handle(w http.ResponseWriter, r *http.Request)
}

// HTTPHandlerAdapter adapts an http.Handler to the HTTPHandler interface.
type HTTPHandlerAdapter struct {
	handler http.Handler
}

// NewHTTPHandlerAdapter creates a new adapter for an http.Handler.
func NewHTTPHandlerAdapter(handler http.Handler) *HTTPHandlerAdapter {
	return &HTTPHandlerAdapter{handler: handler}
}

// Handle implements the HTTPHandler interface.
func (a *HTTPHandlerAdapter) Handle(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// HTTPHandlerFunc adapts a plain function to the HTTPHandler interface.
type HTTPHandlerFunc func(w http.ResponseWriter, r *http.Request)

// Handle implements the HTTPHandler interface.
func (f HTTPHandlerFunc) Handle(w http.ResponseWriter, r *http.Request) {
	f(w, r)
}
