// ABOUTME: Tests for Gateway construction, lifecycle, and the gRPC health service
// ABOUTME: Shared helpers build an in-memory gateway behind an httptest server

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"tailscale.com/ipn/ipnstate"

	"github.com/2389/parley-gateway/internal/config"
	"github.com/2389/parley-gateway/internal/store"
)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig creates a minimal in-memory config.
func testConfig() *config.Config {
	interventions := config.DefaultHumanInterventions
	return &config.Config{
		Server:  config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Storage: config.StorageConfig{Driver: "memory"},
		Conversations: config.ConversationsConfig{
			RequestTimeout:            5 * time.Second,
			WriteTimeout:              time.Second,
			DefaultHumanInterventions: &interventions,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// freeAddr returns a loopback address with an unused port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

type testEnv struct {
	gw    *Gateway
	srv   *httptest.Server
	store store.Store
}

func newTestEnv(t *testing.T, cfg *config.Config, opts ...Option) *testEnv {
	t.Helper()

	s := store.NewMemoryStore()
	opts = append([]Option{WithStore(s)}, opts...)
	gw, err := New(cfg, testLogger(), opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
	})
	return &testEnv{gw: gw, srv: srv, store: s}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(t.Context(), method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// teamRequest is a one-agent team with the echo tool.
func teamRequest() CreateConversationRequest {
	return CreateConversationRequest{
		Conversation: ConversationSettings{Name: "demo"},
		Agents: []AgentSettings{
			{Name: "Bot", Prompt: "be helpful", Tools: []string{"echo"}, AgentType: LLMAgentType},
		},
	}
}

func (e *testEnv) createConversation(t *testing.T, req CreateConversationRequest) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/c2/create", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out CreateConversationResponse
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out.ConversationID)
	return out.ConversationID
}

func TestGatewayNew(t *testing.T) {
	env := newTestEnv(t, testConfig())

	assert.NotNil(t, env.gw.conversations)
	assert.NotNil(t, env.gw.connections)
	assert.NotNil(t, env.gw.pending)
	assert.NotNil(t, env.gw.dispatcher)
	assert.Nil(t, env.gw.grpcServer, "gRPC is off without grpc_addr")

	names := make([]string, 0)
	for _, tool := range env.gw.catalog.List() {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "clock")
	assert.Contains(t, names, "word_count")
}

func TestGatewayNew_OpensConfiguredStore(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Driver: "sqlite", Path: t.TempDir() + "/parley.db"}

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	_, ok := gw.store.(*store.SQLiteStore)
	assert.True(t, ok)
	require.NoError(t, gw.Shutdown(t.Context()))
}

func TestGatewayNew_BadStoreDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "postgres"

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initializing store")
}

func TestGatewayRun_ServesHTTPAndGRPCHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HTTPAddr = freeAddr(t)
	cfg.Server.GRPCAddr = freeAddr(t)

	gw, err := New(cfg, testLogger(), WithStore(store.NewMemoryStore()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	runErr := make(chan error, 1)
	go func() { runErr <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer checkCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGatewayRun_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.Server.HTTPAddr = ln.Addr().String()

	gw, err := New(cfg, testLogger(), WithStore(store.NewMemoryStore()))
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	err = gw.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestNewTailnetNode(t *testing.T) {
	node, err := newTailnetNode(config.TailscaleConfig{
		Hostname:  "parley",
		AuthKey:   "tskey-config",
		StateDir:  "/var/lib/parley",
		Ephemeral: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "parley", node.Hostname)
	assert.Equal(t, "tskey-config", node.AuthKey)
	assert.Equal(t, "/var/lib/parley", node.Dir)
	assert.True(t, node.Ephemeral)
}

func TestNewTailnetNode_Defaults(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "tskey-env")
	t.Setenv("XDG_DATA_HOME", "/xdg-data")

	node, err := newTailnetNode(config.TailscaleConfig{Hostname: "parley"})
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", node.AuthKey)
	assert.Equal(t, filepath.Join("/xdg-data", "parley", "tailnet"), node.Dir)

	t.Setenv("XDG_DATA_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	node, err = newTailnetNode(config.TailscaleConfig{Hostname: "parley"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "parley", "tailnet"), node.Dir)
}

func TestNewTailnetNode_NeedsAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := newTailnetNode(config.TailscaleConfig{Hostname: "parley", StateDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TS_AUTHKEY")
}

func TestTailnetSocketBase(t *testing.T) {
	assert.Equal(t, "ws://parley/c2/", tailnetSocketBase(nil, "parley"))
	assert.Equal(t, "ws://parley/c2/", tailnetSocketBase(&ipnstate.Status{}, "parley"))

	withIP := &ipnstate.Status{TailscaleIPs: []netip.Addr{netip.MustParseAddr("100.64.0.7")}}
	assert.Equal(t, "ws://100.64.0.7/c2/", tailnetSocketBase(withIP, "parley"))

	withDNS := &ipnstate.Status{
		TailscaleIPs: withIP.TailscaleIPs,
		Self:         &ipnstate.PeerStatus{DNSName: "parley.tail1234.ts.net."},
	}
	assert.Equal(t, "ws://parley.tail1234.ts.net/c2/", tailnetSocketBase(withDNS, "parley"))
}
