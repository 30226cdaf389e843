package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/solatis/badgekeeper/internal/core/api"
	"github.com/solatis/badgekeeper/internal/core/auth"
	"github.com/solatis/badgekeeper/internal/core/config"
	"github.com/solatis/badgekeeper/internal/core/db"
	"github.com/solatis/badgekeeper/internal/rules"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

var testSecret = []byte("testsecret1234567890abcdefghijklmnop")

type memoryKeys map[string]*db.APIKeyRecord

func (m memoryKeys) LookupByHash(_ context.Context, hash []byte) (*db.APIKeyRecord, error) {
	if rec, ok := m[string(hash)]; ok {
		return rec, nil
	}
	return nil, db.ErrAPIKeyNotFound
}

func (m memoryKeys) TouchLastUsed(context.Context, string, time.Time) error { return nil }

func newService(t *testing.T) api.RuleServiceServer {
	t.Helper()
	svc, err := api.NewRuleService(rules.NewEngine(rules.NewStore(), nil))
	require.NoError(t, err)
	return svc
}

// serve starts s on an in-memory listener and returns a connected client conn.
func serve(t *testing.T, s *GRPCServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewGRPCServerValidation(t *testing.T) {
	_, err := NewGRPCServer(nil, newService(t), nil, nil)
	assert.Error(t, err)
	_, err = NewGRPCServer(config.Default(), nil, nil, nil)
	assert.Error(t, err)
}

func TestServerWithAuth(t *testing.T) {
	key, hash, err := auth.GenerateAPIKey(testSecretID, testSecret)
	require.NoError(t, err)
	keys := memoryKeys{string(hash): {APIKeyID: "k1", Name: "admin"}}
	authenticator := auth.NewAuthenticator(map[string][]byte{testSecretID: testSecret}, keys, nil)

	core, logs := observer.New(zapcore.DebugLevel)
	s, err := NewGRPCServer(config.Default(), newService(t), authenticator, zap.New(core))
	require.NoError(t, err)
	conn := serve(t, s)
	client := api.NewClient(conn)
	ctx := context.Background()

	_, err = client.Call(ctx, api.MethodListRules, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	authed := metadata.AppendToOutgoingContext(ctx, "x-api-key", key)
	resp, err := client.Call(authed, api.MethodListRules, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, resp.AsMap()["rule_ids"])

	calls := logs.FilterMessage("grpc call").All()
	require.Len(t, calls, 1)
	assert.Equal(t, "admin", calls[0].ContextMap()["principal"])

	// Health is reachable without a key
	hc, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: api.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, hc.Status)
}

func TestServerWithoutAuth(t *testing.T) {
	s, err := NewGRPCServer(config.Default(), newService(t), nil, nil)
	require.NoError(t, err)
	client := api.NewClient(serve(t, s))

	resp, err := client.Call(context.Background(), api.MethodStats, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(0), resp.AsMap()["rules_count"])
}

func TestTimeoutInterceptor(t *testing.T) {
	interceptor := timeoutInterceptor(50 * time.Millisecond)
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, _ interface{}) (interface{}, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok, "handler context should carry a deadline")
		assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
		return nil, nil
	})
	require.NoError(t, err)

	_, err = timeoutInterceptor(0)(context.Background(), nil, info, func(ctx context.Context, _ interface{}) (interface{}, error) {
		_, ok := ctx.Deadline()
		assert.False(t, ok)
		return nil, nil
	})
	require.NoError(t, err)
}
