package backend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// MaxUploadBytes bounds the multipart body of an upload
const MaxUploadBytes = 10 << 20

// Server handles HTTP requests for the invoice API
type Server struct {
	service *Service
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service) *Server {
	return NewServerWithMux(service, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user *invoice.User)

// requireAuth resolves the bearer token to a user before calling next
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			token = ""
		}

		user, err := s.service.Authenticate(strings.TrimSpace(token))
		if err != nil {
			if !errors.Is(err, invoice.ErrAuth) {
				slog.Error("Error authenticating request", "error", err)
			}
			writeError(w, err)
			return
		}
		next(w, r, user)
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /token", s.handleToken)
	s.mux.HandleFunc("POST /users", s.handleRegister)
	s.mux.HandleFunc("POST /users/{$}", s.handleRegister)
	s.mux.HandleFunc("GET /users/me", s.requireAuth(s.handleMe))
	s.mux.HandleFunc("PUT /users/me", s.requireAuth(s.handleUpdateMe))

	s.mux.HandleFunc("POST /invoices/upload", s.requireAuth(s.handleUpload))
	s.mux.HandleFunc("GET /invoices/{id}", s.requireAuth(s.handleGetInvoice))
	s.mux.HandleFunc("GET /invoices", s.requireAuth(s.handleListInvoices))
	s.mux.HandleFunc("GET /invoices/{$}", s.requireAuth(s.handleListInvoices))

	s.mux.HandleFunc("GET /analytics", s.requireAuth(s.handleAnalytics))
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// Start serves on addr until ctx ends, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
