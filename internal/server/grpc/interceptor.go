package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/adminapi"
	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const operatorKey ctxKey = "operator"

const healthServicePrefix = "/grpc.health.v1.Health/"

func publicMethod(fullMethod string) bool {
	return fullMethod == adminapi.MethodLogin || strings.HasPrefix(fullMethod, healthServicePrefix)
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {

	if publicMethod(info.FullMethod) {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	operator, err := s.operators.Authenticate(accessToken)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
		}
		return nil, status.Error(codes.Unauthenticated, common.ErrInvalidToken.Error())
	}

	ctx = context.WithValue(ctx, operatorKey, operator)
	ctx = logging.ContextWith(ctx, "caller", operator)
	return handler(ctx, req)
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	ctx = logging.ContextWith(ctx, "rpc", info.FullMethod)
	resp, err := handler(ctx, req)
	s.logger.Debug(ctx, "admin call", "code", status.Code(err).String(), "duration", time.Since(start))
	return resp, err
}

func operatorFromContext(ctx context.Context) string {
	operator, _ := ctx.Value(operatorKey).(string)
	return operator
}
