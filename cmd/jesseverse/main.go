// ABOUTME: Entry point for the jesseverse hub server
// ABOUTME: Subcommands serve, init, health, token and version

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/jesseverse/internal/auth"
	"github.com/2389/jesseverse/internal/config"
	"github.com/2389/jesseverse/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _
    (_) ___  ___ ___  _____   _____ _ __ ___  ___
    | |/ _ \/ __/ __|/ _ \ \ / / _ \ '__/ __|/ _ \
    | |  __/\__ \__ \  __/\ V /  __/ |  \__ \  __/
   _/ |\___||___/___/\___| \_/ \___|_|  |___/\___|
  |__/
`

// defaultTokenTTL is the admin token lifetime when --ttl is not given.
const defaultTokenTTL = 30 * 24 * time.Hour

// getConfigPath returns the path to the config file.
// Priority: JESSEVERSE_CONFIG env var > XDG_CONFIG_HOME/jesseverse/config.yaml > ~/.config/jesseverse/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("JESSEVERSE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "jesseverse", "config.yaml")
}

// getDataPath returns the path to the jesseverse data directory.
// Priority: XDG_DATA_HOME/jesseverse > ~/.local/share/jesseverse
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "jesseverse")
}

func usage() {
	fmt.Println("Usage: jesseverse <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the hub")
	fmt.Println("  init                                Create a new config file interactively")
	fmt.Println("  health                              Check hub health")
	fmt.Println("  token --subject NAME [--ttl 720h]   Mint an admin JWT")
	fmt.Println("  version                             Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Extensions.RefreshSchedule != "" {
		green.Print("    ▶ ")
		fmt.Printf("Refresh:   %s\n", cfg.Extensions.RefreshSchedule)
	}

	fmt.Println()

	logger.Info("starting jesseverse",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gateway.Version = version
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	green.Print("    ▶ ")
	fmt.Printf("MCP:       %s\n\n", gw.MCPEndpoint())

	return gw.Run(ctx)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			mu:    &sync.Mutex{},
			level: level,
		}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// colorHandler provides colorized log output with thread-safe writes.
// Handlers derived through WithAttrs share the parent's mutex.
type colorHandler struct {
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &colorHandler{
		mu:     h.mu,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		mu:     h.mu,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := healthURL(cfg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// healthURL picks the address the running hub is reachable on.
func healthURL(cfg *config.Config) string {
	if envURL := os.Getenv("JESSEVERSE_URL"); envURL != "" {
		return strings.TrimRight(envURL, "/") + "/health"
	}
	if cfg.Tailscale.Enabled {
		scheme := "http"
		if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
			scheme = "https"
		}
		return scheme + "://" + cfg.Tailscale.Hostname + "/health"
	}
	return "http://" + cfg.Server.HTTPAddr + "/health"
}

// tokenArgs holds the parsed flags of the token subcommand.
type tokenArgs struct {
	subject string
	ttl     time.Duration
}

// parseTokenArgs supports both "--flag value" and "--flag=value" formats.
func parseTokenArgs(args []string) (*tokenArgs, error) {
	parsed := &tokenArgs{ttl: defaultTokenTTL}

	var ttlRaw string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return nil, errors.New("--subject requires a value")
			}
			parsed.subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			parsed.subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return nil, errors.New("--ttl requires a value")
			}
			ttlRaw = args[i+1]
			i++
		case strings.HasPrefix(arg, "--ttl="):
			ttlRaw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return nil, fmt.Errorf("unknown flag: %s", arg)
		default:
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	parsed.subject = strings.TrimSpace(parsed.subject)
	if parsed.subject == "" {
		return nil, errors.New("--subject flag is required")
	}

	if ttlRaw != "" {
		ttl, err := time.ParseDuration(ttlRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid --ttl %q: %w", ttlRaw, err)
		}
		if ttl <= 0 {
			return nil, errors.New("--ttl must be positive")
		}
		parsed.ttl = ttl
	}
	return parsed, nil
}

// runToken mints an admin JWT signed with auth.jwt_secret.
func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(parsed.subject, parsed.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	expiresAt := time.Now().Add(parsed.ttl).UTC()
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "subject %s, expires %s\n", parsed.subject, expiresAt.Format("Jan 02, 2006 15:04 MST"))
	fmt.Println(token)
	return nil
}

// randomSecret returns n random bytes hex-encoded.
func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// initAnswers holds the values collected by the init wizard.
type initAnswers struct {
	outputFile      string
	httpAddr        string
	dbPath          string
	tailscale       bool
	tsHostname      string
	tsFunnel        bool
	refreshSchedule string
	logLevel        string
	logFormat       string
	enableJWT       bool
}

// buildConfig turns wizard answers into a config with freshly generated secrets.
func buildConfig(a initAnswers) (*config.Config, error) {
	mcpToken, err := randomSecret(32)
	if err != nil {
		return nil, fmt.Errorf("generating MCP token: %w", err)
	}
	apiKey, err := randomSecret(24)
	if err != nil {
		return nil, fmt.Errorf("generating API key: %w", err)
	}

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: a.httpAddr},
		Database: config.DatabaseConfig{Path: a.dbPath},
		Auth:     config.AuthConfig{MCPToken: mcpToken, APIKey: apiKey},
		Extensions: config.ExtensionsConfig{
			MaxConcurrency:         config.DefaultMaxConcurrency,
			RefreshSchedule:        a.refreshSchedule,
			InfoTimeoutRaw:         config.DefaultInfoTimeout.String(),
			CapabilitiesTimeoutRaw: config.DefaultCapabilitiesTimeout.String(),
			ExecuteTimeoutRaw:      config.DefaultExecuteTimeout.String(),
		},
		Logging: config.LoggingConfig{Level: a.logLevel, Format: a.logFormat},
	}
	if a.tailscale {
		cfg.Tailscale = config.TailscaleConfig{
			Enabled:  true,
			Hostname: a.tsHostname,
			HTTPS:    true,
			Funnel:   a.tsFunnel,
		}
	}
	if a.enableJWT {
		secret, err := randomSecret(auth.MinSecretLength)
		if err != nil {
			return nil, fmt.Errorf("generating JWT secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
	}
	return cfg, nil
}

// renderConfig encodes cfg as the YAML written by init.
func renderConfig(cfg *config.Config) ([]byte, error) {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	header := "# jesseverse configuration\n# Generated by jesseverse init\n\n"
	return append([]byte(header), body...), nil
}

func runInit() error {
	a := initAnswers{
		outputFile: getConfigPath(),
		httpAddr:   "localhost:8080",
		dbPath:     filepath.Join(getDataPath(), "jesseverse.db"),
		tsHostname: "jesseverse",
		logLevel:   "info",
		logFormat:  "text",
	}

	notEmpty := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("required")
		}
		return nil
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Config file path").Value(&a.outputFile).Validate(notEmpty),
			huh.NewInput().Title("HTTP address").Value(&a.httpAddr).Validate(notEmpty),
			huh.NewInput().Title("SQLite database path").Value(&a.dbPath).Validate(notEmpty),
		).Title("jesseverse setup"),
		huh.NewGroup(
			huh.NewConfirm().Title("Serve on your tailnet with Tailscale?").Value(&a.tailscale),
		),
		huh.NewGroup(
			huh.NewInput().Title("Tailscale hostname").Value(&a.tsHostname).Validate(notEmpty),
			huh.NewConfirm().Title("Enable Funnel (public HTTPS)?").Value(&a.tsFunnel),
		).WithHideFunc(func() bool { return !a.tailscale }),
		huh.NewGroup(
			huh.NewInput().
				Title("Metadata refresh schedule").
				Description("cron spec such as @every 1h; leave empty to disable").
				Value(&a.refreshSchedule),
			huh.NewConfirm().Title("Enable admin JWTs (jesseverse token)?").Value(&a.enableJWT),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&a.logLevel),
			huh.NewSelect[string]().
				Title("Log format").
				Options(huh.NewOptions("text", "json")...).
				Value(&a.logFormat),
		),
	).Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Aborted.")
			return nil
		}
		return fmt.Errorf("running setup form: %w", err)
	}

	if _, err := os.Stat(a.outputFile); err == nil {
		overwrite := false
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("%s exists. Overwrite?", a.outputFile)).
			Value(&overwrite).
			Run(); err != nil || !overwrite {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg, err := buildConfig(a)
	if err != nil {
		return err
	}
	data, err := renderConfig(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(a.outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(a.outputFile, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	green.Printf("  ✓ Config written to %s\n", a.outputFile)
	fmt.Println()
	cyan.Println("  Credentials")
	cyan.Println("  -----------")
	fmt.Printf("  MCP token: %s\n", cfg.Auth.MCPToken)
	fmt.Printf("  API key:   %s\n", cfg.Auth.APIKey)
	fmt.Println()
	yellow.Println("  Next:")
	fmt.Println("    jesseverse serve                         # start the hub")
	fmt.Println("    export JESSEVERSE_API_KEY=<API key>")
	fmt.Println("    jesseverse-admin register NAME URL       # add an extension")
	fmt.Println()

	return nil
}
