// ABOUTME: Gateway orchestrator that wires the conversation core to HTTP, websocket, and gRPC servers
// ABOUTME: Manages listeners (TCP or tailscale), graceful shutdown, and component lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/parley-gateway/internal/config"
	"github.com/2389/parley-gateway/internal/conversation"
	"github.com/2389/parley-gateway/internal/correlate"
	"github.com/2389/parley-gateway/internal/dispatch"
	"github.com/2389/parley-gateway/internal/relay"
	"github.com/2389/parley-gateway/internal/store"
	"github.com/2389/parley-gateway/internal/tools"
	"github.com/2389/parley-gateway/internal/transport"
)

// Gateway orchestrates the parley-gateway server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	catalog       *tools.Catalog
	connections   *transport.Registry
	pending       *correlate.Table
	events        *conversation.Broadcaster
	conversations *conversation.Registry
	dispatcher    *dispatch.Dispatcher

	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *health.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// Option customizes a Gateway at construction.
type Option func(*options)

type options struct {
	advancer conversation.Advancer
	store    store.Store
}

// WithAdvancer replaces the built-in relay agent logic.
func WithAdvancer(a conversation.Advancer) Option {
	return func(o *options) { o.advancer = a }
}

// WithStore uses s instead of opening the configured store.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := o.store
	if s == nil {
		var err error
		s, err = store.Open(cfg.Storage.Driver, cfg.Storage.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
	}

	catalog := tools.NewCatalog(logger)
	if err := catalog.Register(tools.Builtins(time.Now)...); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("registering builtin tools: %w", err)
	}

	advancer := o.advancer
	if advancer == nil {
		advancer = relay.New(logger)
	}

	connections := transport.NewRegistry(cfg.Conversations.WriteTimeout, logger)
	pending := correlate.New(connections, logger)
	events := conversation.NewBroadcaster(logger)
	conversations := conversation.NewRegistry(conversation.Options{
		Advancer:       advancer,
		Asker:          pending,
		Catalog:        catalog,
		Store:          s,
		Events:         events,
		RequestTimeout: cfg.Conversations.RequestTimeout,
		WorkspaceRoot:  cfg.Conversations.WorkspaceRoot,
	}, logger)

	gw := &Gateway{
		config:        cfg,
		store:         s,
		catalog:       catalog,
		connections:   connections,
		pending:       pending,
		events:        events,
		conversations: conversations,
		dispatcher:    dispatch.New(conversations, pending, logger),
		logger:        logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newHealthServer()
	}

	return gw, nil
}

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners for HTTP and, if configured, gRPC.
func (g *Gateway) setupTCPListeners() (httpLn, grpcLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer == nil {
		return httpLn, nil, nil
	}

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	return httpLn, grpcLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (httpLn, grpcLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// serve runs each server on its listener. Serve errors other than a clean
// close are reported on the returned channel.
func (g *Gateway) serve(httpLn, grpcLn net.Listener) <-chan error {
	failed := make(chan error, 2)

	go func() {
		g.logger.Info("accepting conversations", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			g.logger.Info("serving gRPC health", "addr", grpcLn.Addr().String(), "service", HealthService)
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				failed <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return failed
}

// Run serves until ctx is canceled or a server fails, then shuts down.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, grpcLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("stop requested", "conversations", g.conversations.Len())
	case serveErr = <-g.serve(httpLn, grpcLn):
		g.logger.Error("server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// newTailnetNode builds the tsnet node from config. The state dir defaults
// to $XDG_DATA_HOME/parley/tailnet and the auth key to $TS_AUTHKEY.
func newTailnetNode(cfg config.TailscaleConfig) (*tsnet.Server, error) {
	node := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       cfg.StateDir,
		AuthKey:   cfg.AuthKey,
		Ephemeral: cfg.Ephemeral,
	}

	if node.Dir == "" {
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("tailscale.state_dir is unset and home is unknown: %w", err)
			}
			dataDir = filepath.Join(home, ".local", "share")
		}
		node.Dir = filepath.Join(dataDir, "parley", "tailnet")
	}
	if node.AuthKey == "" {
		node.AuthKey = os.Getenv("TS_AUTHKEY")
	}
	if node.AuthKey == "" {
		return nil, errors.New("joining the tailnet needs tailscale.auth_key or TS_AUTHKEY")
	}
	return node, nil
}

// setupTailscaleListeners joins the tailnet and listens on :80 for HTTP
// and :50051 for gRPC health when enabled.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (httpLn, grpcLn net.Listener, err error) {
	node, err := newTailnetNode(g.config.Tailscale)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(node.Dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating tailnet state dir: %w", err)
	}
	g.tsnetServer = node

	status, err := node.Up(ctx)
	if err != nil {
		_ = node.Close()
		return nil, nil, fmt.Errorf("joining tailnet as %s: %w", node.Hostname, err)
	}
	g.logger.Info("joined tailnet", "conversations_url", tailnetSocketBase(status, node.Hostname))

	httpLn, err = node.Listen("tcp", ":80")
	if err != nil {
		_ = node.Close()
		return nil, nil, fmt.Errorf("listening on tailnet :80: %w", err)
	}

	if g.grpcServer == nil {
		return httpLn, nil, nil
	}

	grpcLn, err = node.Listen("tcp", ":50051")
	if err != nil {
		_ = httpLn.Close()
		_ = node.Close()
		return nil, nil, fmt.Errorf("listening on tailnet :50051: %w", err)
	}
	return httpLn, grpcLn, nil
}

// tailnetSocketBase is the websocket base clients dial on the tailnet,
// preferring the MagicDNS name over the first tailnet IP.
func tailnetSocketBase(status *ipnstate.Status, hostname string) string {
	host := hostname
	switch {
	case status == nil:
	case status.Self != nil && status.Self.DNSName != "":
		host = strings.TrimSuffix(status.Self.DNSName, ".")
	case len(status.TailscaleIPs) > 0:
		host = status.TailscaleIPs[0].String()
	}
	return "ws://" + host + "/c2/"
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers, then every conversation, then releases
// connections and the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.grpcServer != nil {
		g.shutdownGRPCServer(ctx)
	}

	g.conversations.Close()
	g.pending.Close()
	g.connections.Close()
	g.events.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
