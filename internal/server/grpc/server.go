// Package grpc serves the operator admin API.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/scanrebate/internal/adminapi"
	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type GRPCServer struct {
	address   string
	operators *services.OperatorService
	review    *services.ReviewService
	payout    *services.PayoutService
	health    *health.Server
	logger    logging.Logger
}

var _ adminapi.AdminServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, ops *services.OperatorService, rs *services.ReviewService, ps *services.PayoutService) *GRPCServer {
	return &GRPCServer{
		address:   a,
		operators: ops,
		review:    rs,
		payout:    ps,
		health:    health.NewServer(),
		logger:    l.With("module", "grpc_server"),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	adminapi.RegisterAdminServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(adminapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {

	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis and stops gracefully when ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {

	srv := s.newServer()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}

	<-stopped
	return nil
}
