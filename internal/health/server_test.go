package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthTransitions(t *testing.T) {
	s := New("127.0.0.1:0")
	require.NoError(t, s.Listen())
	go s.Start()
	defer s.Stop()

	conn, err := grpc.Dial(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.Status
	}

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceName))

	s.SetServing(true)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceName))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))

	s.SetServing(false)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
}
