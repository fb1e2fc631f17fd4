package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jghoshh/goalnudge/backend/goals"
	"github.com/jghoshh/goalnudge/backend/logging"
	"github.com/jghoshh/goalnudge/backend/server/auth"
	"github.com/jghoshh/goalnudge/backend/server/context_key"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the goal service and the authenticator as a JSON API.
type Server struct {
	auth   *auth.Authenticator
	goals  *goals.Service
	logger *slog.Logger
}

func New(authenticator *auth.Authenticator, service *goals.Service, logger *slog.Logger) *Server {
	return &Server{auth: authenticator, goals: service, logger: logging.OrDefault(logger)}
}

// jwtMiddleware reads the bearer token from the Authorization header. A
// valid access token puts the user id into the request context under
// contextKey.UserIDKey; a bad one puts the error under contextKey.JwtErrorKey.
// The request always continues, handlers decide whether a user is required.
func (s *Server) jwtMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok && token != "" {
			userID, err := s.auth.ParseAccessToken(token)
			var ctx context.Context
			if err != nil {
				s.logger.Debug("rejected bearer token", slog.String("error", err.Error()))
				ctx = context.WithValue(r.Context(), contextKey.JwtErrorKey, err)
			} else {
				ctx = context.WithValue(r.Context(), contextKey.UserIDKey, userID)
			}
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and provides a generic error message to the client.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					slog.String("path", r.URL.Path),
					slog.String("panic", fmt.Sprint(err)),
				)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Handler builds the router wrapped in recovery, JWT, CORS and access log
// middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/auth/signup", s.handleSignUp).Methods(http.MethodPost)
	r.HandleFunc("/auth/signin", s.handleSignIn).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/signout", s.authenticated(s.handleSignOut)).Methods(http.MethodPost)

	r.HandleFunc("/me", s.authenticated(s.handleProfile)).Methods(http.MethodGet)
	r.HandleFunc("/me", s.authenticated(s.handleUpdateProfile)).Methods(http.MethodPut)
	r.HandleFunc("/me", s.authenticated(s.handleDeleteAccount)).Methods(http.MethodDelete)

	r.HandleFunc("/goals", s.authenticated(s.handleListGoals)).Methods(http.MethodGet)
	r.HandleFunc("/goals", s.authenticated(s.handleCreateGoal)).Methods(http.MethodPost)
	r.HandleFunc("/goals/resync", s.authenticated(s.handleResync)).Methods(http.MethodPost)
	r.HandleFunc("/goals/{id}", s.authenticated(s.handleGetGoal)).Methods(http.MethodGet)
	r.HandleFunc("/goals/{id}", s.authenticated(s.handleUpdateGoal)).Methods(http.MethodPatch)
	r.HandleFunc("/goals/{id}", s.authenticated(s.handleDeleteGoal)).Methods(http.MethodDelete)
	r.HandleFunc("/goals/{id}/toggle", s.authenticated(s.handleToggle)).Methods(http.MethodPost)
	r.HandleFunc("/goals/{id}/increment", s.authenticated(s.handleIncrement)).Methods(http.MethodPost)
	r.HandleFunc("/goals/{id}/decrement", s.authenticated(s.handleDecrement)).Methods(http.MethodPost)
	r.HandleFunc("/goals/{id}/active", s.authenticated(s.handleSetActive)).Methods(http.MethodPost)
	r.HandleFunc("/goals/{id}/registrations", s.authenticated(s.handleRegistrations)).Methods(http.MethodGet)

	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})

	var h http.Handler = s.recoveryMiddleware(s.jwtMiddleware(r))
	h = handlers.CORS(corsOrigins, corsMethods, corsHeaders)(h)
	return handlers.LoggingHandler(os.Stdout, h)
}

// Start serves the API on the host of serverURL until ctx is done, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context, serverURL string) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}

	server := &http.Server{
		Handler:      s.Handler(),
		Addr:         u.Host,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", u.Host))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
