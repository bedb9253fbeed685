package httphandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

// Server owns the intake listener for a single run. It can be started once;
// Stop is idempotent and always releases the port.
type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger

	mu        sync.Mutex
	started   bool
	srv       *http.Server
	serveDone chan struct{}
}

// NewServer creates a Server that will listen on 127.0.0.1:port. Port 0
// selects an ephemeral port.
func NewServer(port int, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		addr:    net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		handler: handler,
		logger:  logger,
	}
}

// Start binds the listener and begins serving in the background. It returns
// the bound host:port. ErrPortInUse is returned when the port is taken and
// ErrAlreadyStarted on any second call.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return "", model.ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		if isAddrInUse(err) {
			return "", fmt.Errorf("%w: %s", model.ErrPortInUse, s.addr)
		}
		return "", fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.started = true

	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.serveDone = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("intake server error", "error", err)
		}
	}(s.srv, s.serveDone)

	bound := ln.Addr().String()
	s.logger.Debug("intake server listening", "addr", bound)
	return bound, nil
}

// Stop drains in-flight requests until ctx expires, then closes the
// listener. Calling Stop before Start or more than once is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}

	var stopErr error
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("intake server shutdown timed out, closing", "error", err)
		if closeErr := s.srv.Close(); closeErr != nil {
			stopErr = fmt.Errorf("close intake server: %w", closeErr)
		}
	}
	<-s.serveDone

	s.srv = nil
	s.logger.Debug("intake server stopped", "addr", s.addr)
	return stopErr
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	// Windows reports WSAEADDRINUSE, which syscall does not map.
	return strings.Contains(strings.ToLower(err.Error()), "address already in use") ||
		strings.Contains(strings.ToLower(err.Error()), "only one usage of each socket address")
}
