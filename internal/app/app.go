// Package app wires every gateway subsystem together and implements the
// process lifecycle: construct storage, pairing, access control, providers,
// tools, the tool loop, the HTTP dispatcher, then run until a shutdown
// signal arrives.
//
// A single App struct is built once by New and driven by Run; no goroutines
// start until Run is called.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/torbobase/torbo-base/common/crypto"
	"github.com/torbobase/torbo-base/common/observability"
	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/audit"
	"github.com/torbobase/torbo-base/internal/config"
	"github.com/torbobase/torbo-base/internal/httpapi"
	"github.com/torbobase/torbo-base/internal/llm"
	"github.com/torbobase/torbo-base/internal/pairing"
	"github.com/torbobase/torbo-base/internal/ratelimit"
	"github.com/torbobase/torbo-base/internal/sandbox"
	"github.com/torbobase/torbo-base/internal/sqlstore"
	"github.com/torbobase/torbo-base/internal/supervisor"
	"github.com/torbobase/torbo-base/internal/toolloop"
	"github.com/torbobase/torbo-base/internal/tools"
	"github.com/torbobase/torbo-base/internal/websearch"
)

// Config holds the gateway configuration, typically loaded from environment
// variables by cmd/torbo/main.go.
type Config struct {
	// ListenAddr is the address the HTTP dispatcher binds to.
	ListenAddr string
	// DatabasePath is the SQLite file backing the audit archive index.
	DatabasePath string
	// KeychainPath is the encrypted pairing/API-key keychain file.
	KeychainPath string
	// SettingsFile is an optional path to a YAML settings file loaded at
	// startup. A missing file is not an error; the gateway runs with
	// config.Default() until PUT /v1/config/settings supplies one.
	SettingsFile string
	// AuditLogPath is the line-delimited JSON audit flush target.
	AuditLogPath string
	// BackupDir is where write_file stores pre-overwrite backups.
	BackupDir string

	// LocalDaemonURL is the base URL of the local inference daemon the
	// supervisor ensures is running before the gateway starts serving.
	LocalDaemonURL string

	// RateLimitPerMinute is the per-IP request budget; when it is <= 0 the
	// settings file's value is used instead.
	RateLimitPerMinute int

	// RedisURL, when non-empty, backs the rate limiter with a shared Redis
	// counter instead of the in-process bucket, so several gateway
	// processes fronted by one address share a single per-IP budget.
	RedisURL string

	// TrustedNetworkCIDRs are the CIDR blocks eligible for POST /pair/auto
	// (LAN auto-pair without a code).
	TrustedNetworkCIDRs []string

	LogLevel  string
	LogFormat string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	BraveAPIKey     string
}

// App is the fully wired gateway, ready to Run.
type App struct {
	cfg *Config

	db          *sqlstore.Store
	secretStore *pairing.SecretStore
	pairingReg  *pairing.Registry
	pairingMgr  *pairing.Manager
	agents      *access.Store
	evaluator   *access.Evaluator
	cfgLoader   *config.Loader
	multiplexer *llm.Multiplexer
	toolReg     *tools.Registry
	executor    *tools.Executor
	loop        *toolloop.Loop
	auditRing   *audit.Ring
	supv        *supervisor.Supervisor
	rateLimit   ratelimit.Limiter
	server      *httpapi.Server
}

// New constructs every subsystem but starts no goroutines; call Run to
// start serving.
func New(cfg *Config) (*App, error) {
	observability.Setup(cfg.LogLevel, cfg.LogFormat)

	masterKey, err := crypto.LoadMasterKey()
	if err != nil {
		return nil, fmt.Errorf("app: load master key: %w", err)
	}

	db, err := sqlstore.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}

	secretStore := pairing.NewSecretStore(cfg.KeychainPath, masterKey)
	pairingReg := pairing.NewRegistry(pairing.DefaultExpiryWindow)
	pairingMgr := pairing.NewManager(secretStore, pairingReg, trustedNetworkChecker(cfg.TrustedNetworkCIDRs))
	pairingReg.SetManager(pairingMgr)

	agentStore := access.NewStore()
	capReg := access.NewRegistry()
	evaluator := access.NewEvaluator(agentStore, capReg)

	cfgLoader := config.New(agentStore, evaluator)
	if cfg.SettingsFile != "" {
		if err := cfgLoader.LoadFile(cfg.SettingsFile); err != nil {
			db.Close()
			return nil, fmt.Errorf("app: load settings file: %w", err)
		}
	}

	apiKeys, err := secretStore.APIKeys()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app: read stored api keys: %w", err)
	}
	providers := buildProviders(cfg, apiKeys)
	multiplexer := llm.NewMultiplexer(providers, slog.Default())

	toolReg := tools.NewRegistry()
	registerBuiltinTools(toolReg, capReg, agentStore, evaluator, cfg, apiKeys)

	executor, err := tools.NewExecutor(toolReg, evaluator)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app: build tool executor: %w", err)
	}

	loop := toolloop.New(multiplexer, toolReg, executor, evaluator, slog.Default())

	auditRing := audit.New(cfg.AuditLogPath, db)

	rateLimitPerMinute := cfg.RateLimitPerMinute
	if rateLimitPerMinute <= 0 {
		rateLimitPerMinute = cfgLoader.Settings().RateLimitPerMinute
	}
	var rateLimiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("app: parse redis url: %w", err)
		}
		rateLimiter = ratelimit.NewRedisLimiter(redis.NewClient(opts), rateLimitPerMinute)
	} else {
		rateLimiter = ratelimit.NewInMemory(rateLimitPerMinute, ratelimit.DefaultIdleTimeout)
	}

	supv := supervisor.New(cfg.LocalDaemonURL)

	server := httpapi.New(httpapi.Deps{
		Addr:        cfg.ListenAddr,
		PairingMgr:  pairingMgr,
		PairingReg:  pairingReg,
		SecretStore: secretStore,
		Agents:      agentStore,
		Evaluator:   evaluator,
		CfgLoader:   cfgLoader,
		RateLimit:   rateLimiter,
		AuditLog:    auditRing,
		Loop:        loop,
		Registry:    toolReg,
		Provider:    multiplexer,
		Supervisor:  supv,
	})

	return &App{
		cfg:         cfg,
		db:          db,
		secretStore: secretStore,
		pairingReg:  pairingReg,
		pairingMgr:  pairingMgr,
		agents:      agentStore,
		evaluator:   evaluator,
		cfgLoader:   cfgLoader,
		multiplexer: multiplexer,
		toolReg:     toolReg,
		executor:    executor,
		loop:        loop,
		auditRing:   auditRing,
		supv:        supv,
		rateLimit:   rateLimiter,
		server:      server,
	}, nil
}

// buildProviders constructs every configured chat-completion backend. The
// local provider is always constructed; a cloud provider with no API key is
// simply omitted from the map, and the multiplexer skips absent entries
// during fallback rather than erroring at startup.
func buildProviders(cfg *Config, storedKeys map[string]string) map[string]llm.Provider {
	providers := make(map[string]llm.Provider, 4)

	providers[llm.ProviderLocal] = llm.NewLocal(llm.OpenAIConfig{
		BaseURL: cfg.LocalDaemonURL,
		Timeout: 60 * time.Second,
	})

	if key := firstNonEmpty(cfg.OpenAIAPIKey, storedKeys[llm.ProviderOpenAI]); key != "" {
		providers[llm.ProviderOpenAI] = llm.NewOpenAI(llm.OpenAIConfig{APIKey: key, Timeout: 60 * time.Second})
	}
	if key := firstNonEmpty(cfg.AnthropicAPIKey, storedKeys[llm.ProviderAnthropic]); key != "" {
		providers[llm.ProviderAnthropic] = llm.NewAnthropic(llm.AnthropicConfig{APIKey: key, Timeout: 60 * time.Second})
	}
	if key := firstNonEmpty(cfg.GeminiAPIKey, storedKeys[llm.ProviderGemini]); key != "" {
		gemini, err := llm.NewGemini(context.Background(), llm.GeminiConfig{APIKey: key})
		if err != nil {
			slog.Warn("app: gemini provider unavailable", "err", err)
		} else {
			providers[llm.ProviderGemini] = gemini
		}
	}
	return providers
}

// registerBuiltinTools populates the catalogue with every built-in tool the
// gateway ships, at its fixed minimum access level. run_code prefers the
// Docker sandbox and falls back to the in-process sandbox when no daemon is
// reachable, so the gateway still runs on a host without Docker installed.
func registerBuiltinTools(reg *tools.Registry, caps *access.Registry, agents *access.Store, evaluator *access.Evaluator, cfg *Config, storedKeys map[string]string) {
	reg.Register(tools.NewReadFileTool(agents), caps)
	reg.Register(tools.NewWriteFileTool(agents, evaluator, cfg.BackupDir), caps)
	reg.Register(tools.NewListDirectoryTool(agents), caps)
	reg.Register(tools.NewRunCommandTool(os.Getenv("SHELL")), caps)
	reg.Register(tools.NewWebFetchTool(), caps)

	braveKey := firstNonEmpty(cfg.BraveAPIKey, storedKeys["websearch"])
	reg.Register(tools.NewWebSearchTool(websearch.New(braveKey)), caps)

	var codeSb interface {
		Execute(ctx context.Context, code, language string, c sandbox.Config) (sandbox.Result, error)
	}
	dockerSb, err := sandbox.NewDockerSandbox()
	if err != nil {
		slog.Warn("app: docker unavailable, run_code falls back to in-process sandbox", "err", err)
		codeSb = &sandbox.InProcessSandbox{}
	} else {
		codeSb = dockerSb
	}
	reg.Register(tools.NewRunCodeTool(codeSb), caps)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Run starts the HTTP dispatcher, the audit ring's background flusher, and
// ensures the local inference daemon is running, then blocks until a
// shutdown signal arrives or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.supv.EnsureRunning(ctx); err != nil {
		slog.Warn("app: local inference daemon not available", "err", err)
	}

	go a.auditRing.StartFlusher(ctx)

	if limiter, ok := a.rateLimit.(*ratelimit.InMemory); ok {
		go limiter.StartEvictor(ctx)
	}

	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("app: start http server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("app: received shutdown signal")
	case <-ctx.Done():
	}

	cancel()
	a.server.Stop()
	a.supv.Stop()
	if err := a.auditRing.Flush(); err != nil {
		slog.Error("app: final audit flush failed", "err", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Error("app: close database failed", "err", err)
	}
	return nil
}

// trustedNetworkChecker builds the callback pairing.NewManager needs to
// decide whether a caller may auto-pair without a code. An empty cidrs list
// trusts nothing, so auto-pair is opt-in, not a default-open LAN surface.
func trustedNetworkChecker(cidrs []string) func(string) bool {
	nets := parseCIDRs(cidrs)
	return func(remoteAddr string) bool {
		ip := hostIP(remoteAddr)
		if ip == nil {
			return false
		}
		for _, n := range nets {
			if n.Contains(ip) {
				return true
			}
		}
		return false
	}
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			slog.Warn("app: ignoring invalid trusted network CIDR", "cidr", c, "err", err)
			continue
		}
		out = append(out, n)
	}
	return out
}

func hostIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}
