// Package relay is a development document service: it broadcasts edits
// between the sessions of a document and serves the CRUD endpoints the
// persistence client talks to. Documents are kept in memory.
package relay

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/docsync/internal/core/observability/log"
)

// Config holds configuration for the relay
type Config struct {
	Addr string `yaml:"addr"`
	// Token protects DELETE /documents/{id}. Empty disables the check.
	Token           string        `yaml:"token"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns default relay configuration
func DefaultConfig() Config {
	return Config{
		Addr:            ":8081",
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  4 * 1024 * 1024, // 4MB
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server wires the hub and the documents API onto one router.
type Server struct {
	config Config
	store  *Store
	hub    *Hub
	router *mux.Router
	logger log.Log

	running int32
}

// New creates a relay with an empty store.
func New(config Config, logger log.Log) *Server {
	logger = logger.With(log.String("component", "relay"))
	store := NewStore()
	s := &Server{
		config: config,
		store:  store,
		hub:    NewHub(store, config, logger),
		router: mux.NewRouter(),
		logger: logger,
	}

	s.router.Handle("/ws", s.hub).Methods(http.MethodGet)
	api := &documentsAPI{store: store, logger: logger}
	api.register(s.router, config.Token)
	return s
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Store returns the document store.
func (s *Server) Store() *Store {
	return s.store
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Logger() log.Log {
	return s.logger
}

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.config.Addr == "" {
		return errors.Wrap(ErrInvalidConfig, "empty listen address")
	}
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.config.Addr)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerClosed
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Relay listening", log.String("addr", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultConfig().ShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// hijacked websocket connections are not closed by Shutdown
		s.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.logger.Info("Relay stopped", log.Error(err))
	return err
}
