package grpc

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

func TestHealthServer_Probe(t *testing.T) {
	req := require.New(t)
	healthy := true
	s := NewHealthServer(log.NewWithWriter(log.Config{Level: "error"}, io.Discard), map[string]Check{
		"database": func(ctx context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("database is down")
		},
	})
	defer s.Stop()
	ctx := context.Background()

	req.Equal(healthpb.HealthCheckResponse_SERVING, s.Probe(ctx))

	healthy = false
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, s.Probe(ctx))

	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
