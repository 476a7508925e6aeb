// ABOUTME: Gateway orchestrator that wires storage, real-time delivery, and persona responders
// ABOUTME: Owns the HTTP server lifecycle, optional tailnet listener, and health endpoints

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
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/solipcord/internal/config"
	"github.com/2389/solipcord/internal/conversation"
	"github.com/2389/solipcord/internal/dedupe"
	"github.com/2389/solipcord/internal/llm"
	"github.com/2389/solipcord/internal/pipeline"
	"github.com/2389/solipcord/internal/realtime"
	"github.com/2389/solipcord/internal/responder"
	"github.com/2389/solipcord/internal/store"
)

// Gateway orchestrates the solipcord server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	logs         store.GenerationLogStore
	hub          *realtime.Hub
	conversation *conversation.Service
	responders   *responder.Manager
	guard        *dedupe.Guard
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
}

// Option configures a Gateway.
type Option func(*options)

type options struct {
	hub       *realtime.Hub
	generator llm.Generator
}

// WithHub uses h instead of the process-wide hub.
func WithHub(h *realtime.Hub) Option {
	return func(o *options) { o.hub = h }
}

// WithGenerator replaces the configured generation backend.
func WithGenerator(g llm.Generator) Option {
	return func(o *options) { o.generator = g }
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SOLIPCORD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newGenerator builds the configured generation backend.
func newGenerator(cfg config.GenerationConfig, logger *slog.Logger) (llm.Generator, error) {
	switch cfg.Backend {
	case config.BackendScripted:
		return llm.Scripted{}, nil
	case config.BackendOllama:
		ollama, err := llm.NewOllama(cfg.OllamaURL, cfg.Model, nil, logger)
		if err != nil {
			return nil, err
		}
		policy := llm.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		}
		return llm.NewRetrying(ollama, policy, logger), nil
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Backend)
	}
}

// New creates a new Gateway instance with the given configuration.
// Responders are not attached until Run (or Initialize) is called.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gen := o.generator
	if gen == nil {
		gen, err = newGenerator(cfg.Generation, logger)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("creating generator: %w", err)
		}
	}

	hub := o.hub
	if hub == nil {
		hub = realtime.Shared(cfg.Stream.ReplaySize, logger)
	}

	svc := conversation.New(s, hub.Bus, hub.Channels, logger)
	pipe := pipeline.New(
		pipeline.NewContextBuilder(s, cfg.Generation.HistoryLimit, logger),
		gen,
		svc,
		logger,
		pipeline.WithTemperature(cfg.Generation.Temperature),
		pipeline.WithGenerationLog(s),
	)

	guard := dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize)
	mgr := responder.NewManager(hub.Bus, s, hub.Registry, pipe, logger,
		responder.WithGenerationTimeout(cfg.Generation.Timeout),
		responder.WithGuard(guard),
	)
	svc.SetLifecycleNotifier(mgr)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		logs:         s,
		hub:          hub,
		conversation: svc,
		responders:   mgr,
		guard:        guard,
		logger:       logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Initialize attaches a responder to every stored conversation.
func (g *Gateway) Initialize(ctx context.Context) error {
	n, err := g.responders.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initializing responders: %w", err)
	}
	g.logger.Info("responders ready", "attached", n)
	return nil
}

// setupTCPListener creates the plain TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer serves HTTP in a goroutine, returning the error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
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

// Run starts the HTTP server, attaches responders, and blocks until the
// context is canceled. Returns nil on graceful shutdown, or the first
// server or bootstrap error.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)

	var serverErr error
	if err := g.Initialize(ctx); err != nil {
		serverErr = err
	} else {
		serverErr = g.waitForShutdownSignal(ctx, errCh)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The run context is already canceled at this point.
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
	return filepath.Join(homeDir, ".local", "share", "solipcord", "tsnet"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :80 there.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
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

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
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

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, detaches responders, waits for in-flight
// replies, and releases resources. The realtime hub is left open when it is
// shared with other gateways in the process.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.responders.Shutdown()
	g.waitForReplies(ctx)
	g.guard.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// waitForReplies waits for canceled generations to unwind, bounded by ctx.
func (g *Gateway) waitForReplies(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.responders.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("gave up waiting for in-flight replies")
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once responders are attached.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.responders.Running() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("responders not running"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d responders)", g.responders.Registry().Len())
}
