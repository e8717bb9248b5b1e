// Package server exposes the JSON-RPC gateway, the management API, and the
// gRPC health service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ppiankov/rpcwarden/internal/audit"
	"github.com/ppiankov/rpcwarden/internal/ledger"
	"github.com/ppiankov/rpcwarden/internal/lifecycle"
	"github.com/ppiankov/rpcwarden/internal/metrics"
)

// HealthService is the service name reported by the gRPC health server in
// addition to the overall "" entry.
const HealthService = "rpcwarden.Gateway"

const (
	defaultMaxBody  = 5 << 20
	shutdownTimeout = 10 * time.Second
)

// Config holds listener settings.
type Config struct {
	Listen      string
	AdminListen string
	// HealthPort enables the gRPC health service. Zero disables it.
	HealthPort int
	// RateLimitRPS bounds requests per client address on the gateway.
	// Zero disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

// Deps are the components the server exposes.
type Deps struct {
	Calls   *lifecycle.Manager
	Ledger  *ledger.Engine
	Audit   *audit.Log
	Metrics *metrics.Metrics
	Log     logrus.FieldLogger
}

// Server wires HTTP handlers to the call manager and the ledger.
type Server struct {
	cfg     Config
	calls   *lifecycle.Manager
	ledger  *ledger.Engine
	audit   *audit.Log
	metrics *metrics.Metrics
	limiter *clientLimiter
	health  *health.Server
	log     logrus.FieldLogger
	now     func() time.Time
}

// New creates a server.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Calls == nil || deps.Ledger == nil {
		return nil, errors.New("server: call manager and ledger are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	limiter, err := newClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if err != nil {
		return nil, err
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	return &Server{
		cfg:     cfg,
		calls:   deps.Calls,
		ledger:  deps.Ledger,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		limiter: limiter,
		health:  hs,
		log:     deps.Log,
		now:     time.Now,
	}, nil
}

// Listeners carries pre-opened listeners. A nil listener disables that
// surface.
type Listeners struct {
	Gateway net.Listener
	Admin   net.Listener
	Health  net.Listener
}

// Run opens the configured listeners and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var (
		ls  Listeners
		err error
	)
	closeAll := func() {
		for _, l := range []net.Listener{ls.Gateway, ls.Admin, ls.Health} {
			if l != nil {
				_ = l.Close()
			}
		}
	}

	if ls.Gateway, err = net.Listen("tcp", s.cfg.Listen); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	if s.cfg.AdminListen != "" {
		if ls.Admin, err = net.Listen("tcp", s.cfg.AdminListen); err != nil {
			closeAll()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.AdminListen, err)
		}
	}
	if s.cfg.HealthPort > 0 {
		if ls.Health, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.HealthPort)); err != nil {
			closeAll()
			return fmt.Errorf("failed to listen on port %d: %w", s.cfg.HealthPort, err)
		}
	}
	return s.Serve(ctx, ls)
}

// Serve serves on the given listeners until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, ls Listeners) error {
	g, gctx := errgroup.WithContext(ctx)

	var httpServers []*http.Server
	serveHTTP := func(name string, lis net.Listener, h http.Handler) {
		srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
		httpServers = append(httpServers, srv)
		g.Go(func() error {
			s.log.WithField("addr", lis.Addr().String()).Infof("%s listening", name)
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	if ls.Gateway != nil {
		serveHTTP("gateway", ls.Gateway, s.GatewayHandler())
	}
	if ls.Admin != nil {
		serveHTTP("admin", ls.Admin, s.AdminHandler())
	}

	var grpcServer *grpc.Server
	if ls.Health != nil {
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, s.health)
		g.Go(func() error {
			s.log.WithField("addr", ls.Health.Addr().String()).Info("health service listening")
			return grpcServer.Serve(ls.Health)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range httpServers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.log.WithError(err).Warn("http shutdown")
			}
		}
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return nil
	})

	return g.Wait()
}

// HealthServer returns the gRPC health implementation.
func (s *Server) HealthServer() *health.Server {
	return s.health
}
