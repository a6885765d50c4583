// Torbo Base is a local-first AI gateway: an OpenAI-compatible HTTP API in
// front of a local inference daemon with cloud-provider fallback, a bounded
// agentic tool-calling loop, and a six-level access-control ladder gating
// every tool call.
//
// All configuration is loaded from environment variables.
//
// Required environment variables:
//
//	TORBO_MASTER_KEY       - 64-character hex master key (see common/crypto)
//
// Optional environment variables:
//
//	TORBO_LISTEN_ADDR      - HTTP listen address (default ":8420")
//	TORBO_DB_PATH          - SQLite audit archive path (default "/data/torbo.db")
//	TORBO_KEYCHAIN_PATH    - encrypted keychain path (default "/data/keychain.enc")
//	TORBO_SETTINGS_FILE    - path to an initial settings YAML (optional)
//	TORBO_AUDIT_LOG_PATH   - ldjson audit flush target (default "/data/audit.ldjson")
//	TORBO_BACKUP_DIR       - write_file pre-overwrite backup directory (default "/data/backups")
//	TORBO_LOCAL_DAEMON_URL - local inference daemon base URL (default "http://127.0.0.1:11434")
//	TORBO_RATE_LIMIT       - default per-IP requests/minute (default from settings)
//	TORBO_REDIS_URL        - redis://... URL; when set, rate-limit buckets are shared through Redis
//	TORBO_TRUSTED_NETWORKS - comma-separated CIDRs eligible for LAN auto-pair
//	OPENAI_API_KEY         - OpenAI key (takes precedence over a stored key)
//	ANTHROPIC_API_KEY      - fallback Anthropic key
//	GEMINI_API_KEY         - fallback Gemini key
//	BRAVE_SEARCH_API_KEY   - fallback web_search key
//	LOG_LEVEL              - "debug", "info", "warn", "error" (default "info")
//	LOG_FORMAT             - "text" or "json" (default "text")
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/torbobase/torbo-base/common/environment"
	"github.com/torbobase/torbo-base/common/version"
	"github.com/torbobase/torbo-base/internal/app"
)

func main() {
	fmt.Printf("Torbo Base %s (%s) built %s\n", version.Version, version.GitCommit, version.BuildTime)

	cfg := &app.Config{
		ListenAddr:          environment.StringOr("TORBO_LISTEN_ADDR", ":8420"),
		DatabasePath:        environment.StringOr("TORBO_DB_PATH", "/data/torbo.db"),
		KeychainPath:        environment.StringOr("TORBO_KEYCHAIN_PATH", "/data/keychain.enc"),
		SettingsFile:        os.Getenv("TORBO_SETTINGS_FILE"),
		AuditLogPath:        environment.StringOr("TORBO_AUDIT_LOG_PATH", "/data/audit.ldjson"),
		BackupDir:           environment.StringOr("TORBO_BACKUP_DIR", "/data/backups"),
		LocalDaemonURL:      environment.StringOr("TORBO_LOCAL_DAEMON_URL", "http://127.0.0.1:11434"),
		RateLimitPerMinute:  environment.IntOr("TORBO_RATE_LIMIT", 0),
		RedisURL:            os.Getenv("TORBO_REDIS_URL"),
		TrustedNetworkCIDRs: environment.StringSliceOr("TORBO_TRUSTED_NETWORKS", nil),
		LogLevel:            environment.StringOr("LOG_LEVEL", "info"),
		LogFormat:           environment.StringOr("LOG_FORMAT", "text"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		BraveAPIKey:         os.Getenv("BRAVE_SEARCH_API_KEY"),
	}

	if _, err := environment.RequiredString("TORBO_MASTER_KEY"); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	gateway, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize torbo", "err", err)
		os.Exit(1)
	}

	if err := gateway.Run(context.Background()); err != nil {
		slog.Error("torbo exited with error", "err", err)
		os.Exit(1)
	}
}
