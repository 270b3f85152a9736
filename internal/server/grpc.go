package server

import (
	"TreasuryLedger/internal/ingestion"
	"TreasuryLedger/internal/observability"
	"TreasuryLedger/internal/query"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps the gRPC server and the gRPC-Gateway HTTP mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	healthServer  *health.Server
	grpcAddr      string
	httpAddr      string
	faucetEnabled bool
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	gatherer      prometheus.Gatherer
	logger        zerolog.Logger
}

// ServerDeps holds everything the services read from or submit to.
type ServerDeps struct {
	Ingest   *ingestion.IngestService
	Program  Reader
	Ledger   Faucet
	Sequence SequenceSource

	// Query serves as_of_sequence reads, journals and integrity checks.
	// Nil when no Postgres projection is configured.
	Query *query.QueryService

	FaucetEnabled bool
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	Logger        zerolog.Logger
}

// NewGRPCServer creates a gRPC server with the treasury service, the
// faucet when enabled, and the standard health service registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	s := &GRPCServer{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		faucetEnabled: deps.FaucetEnabled,
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		gatherer:      deps.Gatherer,
		logger:        deps.Logger,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.observe))

	RegisterTreasuryServiceServer(s.grpcServer, &treasuryService{
		ingest:   deps.Ingest,
		program:  deps.Program,
		accounts: deps.Ledger,
		seq:      deps.Sequence,
		query:    deps.Query,
	})
	if deps.FaucetEnabled {
		RegisterFaucetServiceServer(s.grpcServer, &faucetService{ledger: deps.Ledger, seq: deps.Sequence})
	}

	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus(TreasuryServiceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

// observe records request metrics and logs failed calls.
func (s *GRPCServer) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	method := path.Base(info.FullMethod)
	start := time.Now()
	resp, err := handler(ctx, req)

	code := status.Code(err)
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(method).Inc()
		s.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.QueryErrors.WithLabelValues(method, code.String()).Inc()
		}
	}
	if err != nil {
		ev := s.logger.Debug()
		if code == codes.Internal || code == codes.Unknown {
			ev = s.logger.Error()
		}
		ev.Err(err).Str("method", method).Str("code", code.String()).Msg("request failed")
	}
	return resp, err
}

// Serve runs the gRPC server on lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop marks the health service not serving and drains in-flight calls.
func (s *GRPCServer) Stop() {
	s.healthServer.Shutdown()
	s.grpcServer.GracefulStop()
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.Stop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.Serve(lis)
}

// Handler builds the HTTP surface: the JSON gateway proxying to the gRPC
// services over cc, health endpoints and the metrics endpoint.
func (s *GRPCServer) Handler(cc grpc.ClientConnInterface) (http.Handler, error) {
	mux := runtime.NewServeMux()
	client := NewClient(cc)
	if err := registerTreasuryRoutes(mux, client); err != nil {
		return nil, fmt.Errorf("register treasury gateway: %w", err)
	}
	if s.faucetEnabled {
		if err := registerFaucetRoutes(mux, client); err != nil {
			return nil, fmt.Errorf("register faucet gateway: %w", err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	cc, err := grpc.NewClient(s.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial grpc %s: %w", s.grpcAddr, err)
	}
	defer cc.Close()

	handler, err := s.Handler(cc)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP gateway shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.httpAddr).Str("grpc", s.grpcAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
