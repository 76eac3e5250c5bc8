// Package server hosts the karaoke WebSocket relay.
//
// One owner connection drives playback for a session; member connections
// join by code, manage the shared queue and forward scores. The process keeps
// every live session in memory and archives a summary when a session ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	platformgrpc "github.com/louisbranch/karaoke.space/internal/platform/grpc"
	"github.com/louisbranch/karaoke.space/internal/platform/timeouts"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/session"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/storage"
	summarysqlite "github.com/louisbranch/karaoke.space/internal/services/karaoke/storage/sqlite"
)

// healthServiceName is reported alongside the overall health status.
const healthServiceName = "karaoke.Relay"

// Config defines the inputs for the karaoke relay.
type Config struct {
	HTTPAddr string
	// HealthAddr enables the gRPC health endpoint when set.
	HealthAddr string
	// SummaryDBPath enables the summary archive when set.
	SummaryDBPath string
	// MaxQueueLength and MaxMembers bound each session; zero is unbounded.
	MaxQueueLength    int
	MaxMembers        int
	CodeDigits        int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the karaoke HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	health          *platformgrpc.HealthServer
	store           *summarysqlite.Store
}

// NewServer builds a configured karaoke server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.MaxQueueLength < 0 || config.MaxMembers < 0 {
		return nil, errors.New("session limits must not be negative")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	var store *summarysqlite.Store
	var archive storage.SessionSummaryStore
	if path := strings.TrimSpace(config.SummaryDBPath); path != "" {
		opened, err := openSummaryStore(path)
		if err != nil {
			return nil, err
		}
		store = opened
		archive = opened
	}

	var health *platformgrpc.HealthServer
	if addr := strings.TrimSpace(config.HealthAddr); addr != "" {
		hs, err := platformgrpc.NewHealthServer(addr, healthServiceName)
		if err != nil {
			if store != nil {
				_ = store.Close()
			}
			return nil, fmt.Errorf("init health server: %w", err)
		}
		health = hs
	}

	registry := session.NewRegistry(
		session.WithCodeDigits(config.CodeDigits),
		session.WithMaxMembers(config.MaxMembers),
		session.WithMaxQueueLength(config.MaxQueueLength),
	)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(newRouter(registry, archive)),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		health:          health,
		store:           store,
	}, nil
}

// Run creates and serves a karaoke server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init karaoke server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve karaoke: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server, and the health server when
// configured, until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("karaoke server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	healthDone := make(chan struct{})
	if s.health != nil {
		go func() {
			defer close(healthDone)
			if err := s.health.Serve(healthCtx); err != nil {
				log.Printf("karaoke: health server stopped: %v", err)
			}
		}()
	} else {
		close(healthDone)
	}
	defer func() {
		stopHealth()
		<-healthDone
	}()

	serveErr := make(chan error, 1)
	log.Printf("karaoke server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()
	s.health.SetServing(true)

	select {
	case <-ctx.Done():
		s.health.SetServing(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		s.health.SetServing(false)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// HealthAddr returns the bound health listener address, or "" when disabled.
func (s *Server) HealthAddr() string {
	if s == nil {
		return ""
	}
	return s.health.Addr()
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.health.Close()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close summary store: %v", err)
		}
	}
}

func openSummaryStore(path string) (*summarysqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := summarysqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open summary sqlite store: %w", err)
	}
	return store, nil
}
