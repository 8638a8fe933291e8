// Package server exposes Rill sessions to remote clients (Connect and
// native gRPC) and to editors (LSP).
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/chazu/rill/cache"
)

var log = commonlog.GetLogger("rill.server")

// Defaults for continuation expiry.
const (
	DefaultContinuationTTL = 30 * time.Minute
	sweepDivisor           = 6
)

// RillServer owns the VM worker and the session and continuation stores,
// and serves them over Connect (HTTP) and gRPC.
type RillServer struct {
	worker        *VMWorker
	continuations *ContinuationStore
	sessions      *SessionStore
	service       *SessionService
	mux           *http.ServeMux
	grpc          *grpc.Server

	stopSweeper func()
}

// ServerOption configures a RillServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	cache           *cache.Cache
	optimize        bool
	maxFrames       int
	continuationTTL time.Duration
}

// WithCache makes Compile consult and fill a unit cache.
func WithCache(c *cache.Cache) ServerOption {
	return func(cfg *serverConfig) { cfg.cache = c }
}

// WithOptimize compiles every module with the optimizing lowering.
func WithOptimize(optimize bool) ServerOption {
	return func(cfg *serverConfig) { cfg.optimize = optimize }
}

// WithMaxFrames bounds the call depth of session VMs.
func WithMaxFrames(n int) ServerOption {
	return func(cfg *serverConfig) { cfg.maxFrames = n }
}

// WithContinuationTTL sets how long a parked continuation may sit unused
// before the sweeper drops it.
func WithContinuationTTL(ttl time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		if ttl > 0 {
			cfg.continuationTTL = ttl
		}
	}
}

// New creates a RillServer.
func New(opts ...ServerOption) *RillServer {
	cfg := &serverConfig{continuationTTL: DefaultContinuationTTL}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewVMWorker()
	continuations := NewContinuationStore(worker)
	sessions := NewSessionStore(continuations, cfg.maxFrames)

	s := &RillServer{
		worker:        worker,
		continuations: continuations,
		sessions:      sessions,
		service:       NewSessionService(worker, sessions, continuations, cfg.cache, cfg.optimize),
		mux:           http.NewServeMux(),
		grpc:          grpc.NewServer(),
	}

	path, handler := NewSessionServiceHandler(s.service)
	s.mux.Handle(path, handler)
	RegisterSessionServer(s.grpc, s.service)

	s.stopSweeper = continuations.StartSweeper(cfg.continuationTTL/sweepDivisor, cfg.continuationTTL)
	return s
}

// Handler returns the Connect HTTP handler.
func (s *RillServer) Handler() http.Handler {
	return s.mux
}

// GRPC returns the gRPC server, for serving on a caller-owned listener.
func (s *RillServer) GRPC() *grpc.Server {
	return s.grpc
}

// Service returns the session service.
func (s *RillServer) Service() *SessionService {
	return s.service
}

// ListenAndServe serves Connect on addr and gRPC on grpcAddr until ctx
// is cancelled or either listener fails. An empty grpcAddr disables gRPC.
func (s *RillServer) ListenAndServe(ctx context.Context, addr, grpcAddr string) error {
	g, ctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{Addr: addr, Handler: s.mux}
	g.Go(func() error {
		log.Noticef("Connect (HTTP) listening on %s", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			httpServer.Close()
			return err
		}
		g.Go(func() error {
			log.Noticef("gRPC listening on %s", grpcAddr)
			return s.grpc.Serve(lis)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.grpc.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop shuts down the sweeper, the gRPC server and the VM worker.
func (s *RillServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.grpc.Stop()
	s.worker.Stop()
}
