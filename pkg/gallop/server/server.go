// Package server is a minimal HTTP/1.1 front end for the gallop parser.
//
// It accepts connections, reads each request head into one append-only
// buffer, re-invokes http11.Parser as bytes arrive, resolves the path
// through a Resolver and runs the matched handler chain. Each connection
// carries exactly one request.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/gallop/pkg/gallop/http11"
)

// ErrServerClosed is returned by Serve after Shutdown or Close.
var ErrServerClosed = errors.New("server: closed")

// Config holds server configuration
type Config struct {
	// Addr is the TCP address ListenAndServe binds to
	// Default: ":8080"
	Addr string

	// ReadTimeout bounds reading the whole request head
	// Default: 30 seconds
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the response
	// Default: 30 seconds
	WriteTimeout time.Duration

	// ShutdownTimeout bounds the drain when Serve's context is cancelled
	// Default: 10 seconds
	ShutdownTimeout time.Duration

	// ReadBufferSize is the size of each socket read. The head buffer grows
	// by this much when full.
	// Default: 4096 bytes
	ReadBufferSize int

	// MaxConns caps concurrently served connections. Accept blocks while
	// the cap is reached.
	// Default: 0 (unlimited)
	MaxConns int

	// Limits are the request-head size limits
	// Default: http11.DefaultLimits()
	Limits http11.Limits

	// Logger receives connection and request logs
	// Default: no-op logger
	Logger *zap.SugaredLogger

	// Metrics receives request counters
	// Default: nil (not recorded)
	Metrics *Metrics
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		ReadBufferSize:  4096,
		Limits:          http11.DefaultLimits(),
	}
}

// Stats tracks server statistics
type Stats struct {
	TotalConnections  atomic.Uint64
	ActiveConnections atomic.Int64
	TotalRequests     atomic.Uint64
	ParseErrors       atomic.Uint64
	NotFound          atomic.Uint64
	BytesRead         atomic.Uint64
	BytesWritten      atomic.Uint64
	StartTime         time.Time
}

// Duration returns the time since the server started
func (s *Stats) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// RequestsPerSecond returns the average requests per second
func (s *Stats) RequestsPerSecond() float64 {
	d := s.Duration().Seconds()
	if d == 0 {
		return 0
	}
	return float64(s.TotalRequests.Load()) / d
}

// Server serves one request per connection.
type Server struct {
	cfg     Config
	routes  Resolver
	log     *zap.SugaredLogger
	metrics *Metrics
	stats   *Stats

	// Connection tracking
	wg      sync.WaitGroup
	conns   map[net.Conn]struct{}
	connsMu sync.Mutex
	connSem chan struct{}

	listenerMu sync.Mutex
	listener   net.Listener

	shutdown atomic.Bool
	done     chan struct{}
}

// New creates a Server dispatching through routes. Zero fields of cfg take
// the DefaultConfig values.
func New(cfg Config, routes Resolver) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	s := &Server{
		cfg:     cfg,
		routes:  routes,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		stats:   &Stats{StartTime: time.Now()},
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}
	if cfg.MaxConns > 0 {
		s.connSem = make(chan struct{}, cfg.MaxConns)
	}
	return s
}

// Stats returns the live statistics.
func (s *Server) Stats() *Stats { return s.stats }

// Addr returns the address of the listener being served, or nil.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on cfg.Addr and serves until ctx is done or the
// server is shut down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Shutdown is called.
// Cancelling ctx drains in-flight connections for up to ShutdownTimeout.
// It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.shutdown.Load() {
		ln.Close()
		return ErrServerClosed
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()

	s.log.Infow("serving", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			defer cancel()
			if err := s.Shutdown(sctx); err != nil && !errors.Is(err, ErrServerClosed) {
				return err
			}
			return nil
		case <-s.done:
			return nil
		}
	})
	g.Go(func() error {
		return s.acceptLoop(ln)
	})
	return g.Wait()
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		if s.connSem != nil {
			select {
			case s.connSem <- struct{}{}:
			case <-s.done:
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.connSem != nil {
				<-s.connSem
			}
			if s.shutdown.Load() {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		if !s.trackConnection(conn) {
			conn.Close()
			if s.connSem != nil {
				<-s.connSem
			}
			return nil
		}
		go s.serveConn(conn)
	}
}

// trackConnection registers conn and adds it to the wait group. It reports
// false once Shutdown has started; the shutdown flag is only set under
// connsMu, so a tracked connection is always waited for.
func (s *Server) trackConnection(conn net.Conn) bool {
	s.connsMu.Lock()
	if s.shutdown.Load() {
		s.connsMu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	s.stats.TotalConnections.Add(1)
	s.stats.ActiveConnections.Add(1)
	s.metrics.connOpened()
	return true
}

func (s *Server) untrackConnection(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()

	s.stats.ActiveConnections.Add(-1)
	s.metrics.connClosed()
	if s.connSem != nil {
		<-s.connSem
	}
}

func (s *Server) closeAllConnections() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// Shutdown stops accepting, then waits for in-flight connections until ctx
// is done, after which the remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connsMu.Lock()
	if !s.shutdown.CompareAndSwap(false, true) {
		s.connsMu.Unlock()
		return ErrServerClosed
	}
	s.connsMu.Unlock()

	s.listenerMu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.listenerMu.Unlock()
	close(s.done)

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.log.Infow("shutdown complete")
		return nil
	case <-ctx.Done():
		s.closeAllConnections()
		<-drained
		s.log.Warnw("shutdown forced", "err", ctx.Err())
		return ctx.Err()
	}
}

// Close immediately closes the listener and all connections.
func (s *Server) Close() error {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Shutdown(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
