// Package serve publishes a directory, such as an HTML coverage report,
// over HTTP.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// shutdownTimeout bounds how long in-flight requests may finish once the
// server is stopped.
const shutdownTimeout = 5 * time.Second

// Server serves the files of one directory.
type Server struct {
	dir string
	ln  net.Listener
	srv *http.Server
	log *zap.Logger
}

// Listen binds addr and prepares a server for dir. Nothing is served
// until Serve.
func Listen(addr, dir string, log *zap.Logger) (*Server, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if log == nil {
		log = zap.NewNop()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s := &Server{dir: dir, ln: ln, log: log}
	s.srv = &http.Server{
		Handler:           s.logRequests(http.FileServer(http.Dir(dir))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// URL is the address clients reach the server on.
func (s *Server) URL() string {
	return "http://" + s.ln.Addr().String() + "/"
}

// Serve answers requests until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("serving", zap.String("dir", s.dir), zap.String("url", s.URL()))

	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(s.ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}
