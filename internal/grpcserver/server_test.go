package grpcserver

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"jobmate/catalog-service/internal/logger"
)

func dial(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_PerSourceStatus(t *testing.T) {
	s := New([]string{"seek", "indeed"}, logger.Nop())
	c := dial(t, s)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, check(t, c, ServiceName("seek")))

	s.SetSourceStatus("seek", true)
	s.SetSourceStatus("indeed", false)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ServiceName("seek")))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ServiceName("indeed")))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""), "one failing source does not take the service down")

	assert.Equal(t, []SourceStatus{{"indeed", false}, {"seek", true}}, s.Snapshot())
}

func TestHealth_UnknownService(t *testing.T) {
	c := dial(t, New(nil, logger.Nop()))
	_, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName("monster")})
	assert.Error(t, err)
}
