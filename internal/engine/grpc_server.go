package engine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// NewGRPCServer поднимает стандартный grpc.health.v1: сервис "" обслуживает процесс,
// сервис <agent_id> SERVING только пока агент в состоянии running.
func NewGRPCServer(reg *Registry, logger *zap.Logger) (*grpc.Server, *health.Server) {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reg.OnStateChange(func(agentID string, state domain.LifecycleState) {
		hs.SetServingStatus(agentID, servingStatus(state))
	})

	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryTraceInterceptor(logger)))
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

func servingStatus(state domain.LifecycleState) healthpb.HealthCheckResponse_ServingStatus {
	if state == domain.StateRunning {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// UnaryTraceInterceptor переносит x-trace-id из метаданных в контекст и логирует вызов.
func UnaryTraceInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.With(zap.String("mod", "grpc"))
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// В gRPC ключи метаданных приходят в нижнем регистре
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(strings.ToLower(TraceHeader)); len(ids) > 0 {
				ctx = WithTraceID(ctx, ids[0])
			}
		}

		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("trace_id", TraceIDFromContext(ctx)))
		return resp, err
	}
}
