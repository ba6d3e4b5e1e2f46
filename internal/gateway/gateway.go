// ABOUTME: Gateway orchestrator that wires the registry, extension proxy, MCP endpoint and REST API.
// ABOUTME: Manages the HTTP listener (TCP or tailscale), refresh schedule and shutdown lifecycle.

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/jesseverse/internal/auth"
	"github.com/2389/jesseverse/internal/catalog"
	"github.com/2389/jesseverse/internal/config"
	"github.com/2389/jesseverse/internal/dashboard"
	"github.com/2389/jesseverse/internal/extension"
	"github.com/2389/jesseverse/internal/hub"
	"github.com/2389/jesseverse/internal/mcp"
	"github.com/2389/jesseverse/internal/refresh"
	"github.com/2389/jesseverse/internal/store"
)

// AppName is reported by /api/health.
const AppName = "jesseverse"

// exchangeSlack is added to the execute timeout to bound one MCP exchange,
// leaving room for the lookup and encoding around a full-length execute.
const exchangeSlack = 15 * time.Second

// Version is reported to MCP clients. cmd/jesseverse overrides it at startup.
var Version = "dev"

// Gateway orchestrates the jesseverse server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// extensions speaks the extension contract for every outbound call
	extensions *extension.Client

	// validator checks /info and /capabilities bodies at registration
	validator *extension.Validator

	// tools backs list_extensions and use
	tools *hub.Tools

	// mcpServer is the MCP endpoint for external agents
	mcpServer *mcp.Server

	// mcpEndpoint is the URL MCP clients should be pointed at
	mcpEndpoint string

	// refresher re-reads /info on a schedule and on demand
	refresher *refresh.Refresher

	// adminVerifier accepts admin JWTs; nil when no usable jwt_secret is set
	adminVerifier auth.TokenVerifier
}

// initStore creates the SQLite registry at the configured path.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// determineMCPEndpoint resolves the MCP endpoint URL from env or config.
// Priority: JESSEVERSE_URL + /mcp > derived from config.
func determineMCPEndpoint(cfg *config.Config) string {
	if envURL := os.Getenv("JESSEVERSE_URL"); envURL != "" {
		return strings.TrimRight(envURL, "/") + "/mcp"
	}
	if cfg.Tailscale.Enabled {
		scheme := "http"
		if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
			scheme = "https"
		}
		return scheme + "://" + cfg.Tailscale.Hostname + "/mcp"
	}
	return "http://" + cfg.Server.HTTPAddr + "/mcp"
}

// createAdminVerifier returns a JWT verifier when jwt_secret is usable.
// A nil interface (not a typed nil) disables JWT admin auth.
func createAdminVerifier(cfg *config.Config, logger *slog.Logger) auth.TokenVerifier {
	if cfg.Auth.JWTSecret == "" {
		return nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		logger.Warn("admin JWT auth disabled", "error", err)
		return nil
	}
	return verifier
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	validator, err := extension.NewValidator()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("compiling protocol schemas: %w", err)
	}

	extClient := extension.NewClient(extension.ClientConfig{
		InfoTimeout:         cfg.Extensions.InfoTimeout,
		CapabilitiesTimeout: cfg.Extensions.CapabilitiesTimeout,
		ExecuteTimeout:      cfg.Extensions.ExecuteTimeout,
		Logger:              logger.With("component", "extension-client"),
	})

	aggregator := catalog.NewAggregator(catalog.Config{
		Store:          s,
		Fetcher:        extClient,
		MaxConcurrency: cfg.Extensions.MaxConcurrency,
		Logger:         logger,
	})

	tools := hub.New(hub.Config{
		Store:    s,
		Catalog:  aggregator,
		Executor: extClient,
		Logger:   logger,
	})

	mcpServer, err := mcp.NewServer(mcp.Config{
		Tools:           tools,
		Verifier:        auth.NewStaticTokenVerifier(cfg.Auth.MCPToken),
		Version:         Version,
		Logger:          logger,
		ExchangeTimeout: cfg.Extensions.ExecuteTimeout + exchangeSlack,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	refresher := refresh.New(refresh.Config{
		Store:          s,
		Fetcher:        extClient,
		Schedule:       cfg.Extensions.RefreshSchedule,
		MaxConcurrency: cfg.Extensions.MaxConcurrency,
		Logger:         logger,
	})

	gw := &Gateway{
		config:        cfg,
		store:         s,
		logger:        logger.With("component", "gateway"),
		extensions:    extClient,
		validator:     validator,
		tools:         tools,
		mcpServer:     mcpServer,
		mcpEndpoint:   determineMCPEndpoint(cfg),
		refresher:     refresher,
		adminVerifier: createAdminVerifier(cfg, logger),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)

	gw.registerAPIRoutes(mux)
	mcpServer.RegisterRoutes(mux)

	dashboard.New(dashboard.Config{
		Store:   s,
		Fetcher: extClient,
		Logger:  logger,
	}).RegisterRoutes(mux)

	if cfg.Auth.APIKey == "" && gw.adminVerifier == nil {
		gw.logger.Warn("no api_key or jwt_secret configured - registry writes are disabled")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// MCPEndpoint returns the URL MCP clients should use.
func (g *Gateway) MCPEndpoint() string {
	return g.mcpEndpoint
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// warnIgnoredAddress logs a warning if the server address is configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddress() {
	if g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddress()
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "mcp_endpoint", g.mcpEndpoint)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	if err := g.refresher.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "jesseverse", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)
	g.updateMCPEndpointFromStatus(status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// updateMCPEndpointFromStatus points the MCP endpoint at the node's tailnet DNS name.
func (g *Gateway) updateMCPEndpointFromStatus(status *ipnstate.Status) {
	if status.Self == nil || status.Self.DNSName == "" {
		return
	}
	if os.Getenv("JESSEVERSE_URL") != "" {
		return
	}
	scheme := "http"
	if g.config.Tailscale.HTTPS || g.config.Tailscale.Funnel {
		scheme = "https"
	}
	cleanDNS := strings.TrimSuffix(status.Self.DNSName, ".")
	newEndpoint := scheme + "://" + cleanDNS + "/mcp"
	if newEndpoint != g.mcpEndpoint {
		g.logger.Info("updated MCP endpoint to use Tailscale DNS name", "old", g.mcpEndpoint, "new", newEndpoint)
		g.mcpEndpoint = newEndpoint
	}
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.refresher.Stop()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
