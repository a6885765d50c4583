// Package config implements the hot-reloadable settings file (agents,
// per-category capability toggles, rate-limit parameters, network exposure)
// that backs PUT /v1/config/settings.
//
// The Loader parses and fully validates a candidate configuration before it
// ever touches the live access.Store, so a malformed or invalid PUT never
// corrupts a running gateway. Readers (the HTTP dispatcher, on every
// request) see either the fully-old or fully-new configuration, never a
// torn intermediate state, because access.Store.Replace swaps its maps
// under a single lock.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/torbobase/torbo-base/internal/access"
)

// AgentSettings is the on-disk shape of a single agent, mirroring
// access.Agent but with string-typed fields suitable for YAML/JSON.
type AgentSettings struct {
	ID                  string          `yaml:"id" json:"id"`
	Role                string          `yaml:"role" json:"role"`
	Personality         string          `yaml:"personality" json:"personality"`
	AccessLevel         string          `yaml:"accessLevel" json:"accessLevel"`
	DirectoryScopes     []string        `yaml:"directoryScopes" json:"directoryScopes"`
	EnabledCapabilities map[string]bool `yaml:"enabledCapabilities" json:"enabledCapabilities"`
	VIP                 bool            `yaml:"vip" json:"vip"`
}

// Settings is the full hot-reloadable configuration.
type Settings struct {
	ServerAccessLevel  string            `yaml:"serverAccessLevel" json:"serverAccessLevel"`
	RateLimitPerMinute int               `yaml:"rateLimitPerMinute" json:"rateLimitPerMinute"`
	LANAccess          bool              `yaml:"lanAccess" json:"lanAccess"`
	Port               int               `yaml:"port" json:"port"`
	TrustedNetworks    []string          `yaml:"trustedNetworks" json:"trustedNetworks"`
	CategoryToggles    map[string]bool   `yaml:"categoryToggles" json:"categoryToggles"`
	Agents             []AgentSettings   `yaml:"agents" json:"agents"`
}

// DefaultPrimaryAgentID names the built-in agent every request defaults to
// when the client omits x-torbo-agent-id.
const DefaultPrimaryAgentID = "primary"

// Default returns the settings a fresh install starts with: a single
// primary agent at CHAT level, unrestricted scopes, every category enabled.
func Default() Settings {
	return Settings{
		ServerAccessLevel:  "FULL",
		RateLimitPerMinute: 60,
		LANAccess:          false,
		Port:               8420,
		CategoryToggles:    map[string]bool{},
		Agents: []AgentSettings{
			{
				ID:          DefaultPrimaryAgentID,
				Role:        "assistant",
				Personality: "helpful, direct",
				AccessLevel: "CHAT",
			},
		},
	}
}

// Loader holds the current live Settings and applies hot-reloads to the
// wired access.Store and access.Evaluator.
type Loader struct {
	mu       sync.RWMutex
	settings Settings
	hash     string

	agents    *access.Store
	evaluator *access.Evaluator
}

// New returns a Loader wired to store/evaluator, pre-populated with
// Default() so the gateway is usable even before a settings file is loaded.
func New(agents *access.Store, evaluator *access.Evaluator) *Loader {
	l := &Loader{agents: agents, evaluator: evaluator}
	// Default() is already valid by construction; ignore the error.
	_ = l.applyValidated(Default())
	return l
}

// LoadFile reads a YAML settings file from disk and applies it. A missing
// file is not an error: the Loader keeps serving Default() (or whatever was
// previously applied) so first-run operation never blocks on operator setup.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("config: no settings file found, using defaults", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read settings file: %w", err)
	}
	return l.Apply(data)
}

// Apply parses and validates a raw YAML payload, then atomically replaces
// the live settings and republishes the derived agent set. It returns an
// error, leaving the live configuration untouched, if parsing or
// validation fails.
func (l *Loader) Apply(data []byte) error {
	var candidate Settings
	if err := yaml.Unmarshal(data, &candidate); err != nil {
		return fmt.Errorf("config: parse settings yaml: %w", err)
	}
	if err := Validate(&candidate); err != nil {
		return fmt.Errorf("config: invalid settings: %w", err)
	}
	hash := hashOf(data)
	return l.commit(candidate, hash)
}

// ApplyPartial merges patch onto a YAML re-serialization of the current
// settings (a shallow, top-level merge matching PUT /v1/config/settings'
// "partial settings" body shape) and applies the result through the same
// validate-then-swap path as Apply.
func (l *Loader) ApplyPartial(patch map[string]interface{}) error {
	current := l.Settings()
	currentRaw, err := yaml.Marshal(current)
	if err != nil {
		return fmt.Errorf("config: marshal current settings: %w", err)
	}
	var merged map[string]interface{}
	if err := yaml.Unmarshal(currentRaw, &merged); err != nil {
		return fmt.Errorf("config: remarshal current settings: %w", err)
	}
	for k, v := range patch {
		merged[k] = v
	}
	mergedRaw, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("config: marshal merged settings: %w", err)
	}
	return l.Apply(mergedRaw)
}

// applyValidated applies a Settings value already known to be valid
// (used internally for Default()).
func (l *Loader) applyValidated(s Settings) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return l.commit(s, hashOf(raw))
}

func (l *Loader) commit(s Settings, hash string) error {
	agentMap := make(map[string]*access.Agent, len(s.Agents))
	for _, as := range s.Agents {
		lvl, err := access.ParseLevel(as.AccessLevel)
		if err != nil {
			return fmt.Errorf("config: agent %q: %w", as.ID, err)
		}
		caps := make(map[access.Category]bool, len(as.EnabledCapabilities))
		for k, v := range as.EnabledCapabilities {
			caps[access.Category(k)] = v
		}
		agentMap[as.ID] = &access.Agent{
			ID:                  as.ID,
			Role:                as.Role,
			Personality:         as.Personality,
			AccessLevel:         lvl,
			DirectoryScopes:     as.DirectoryScopes,
			EnabledCapabilities: caps,
			VIP:                 as.VIP,
		}
	}
	globalLevel, err := access.ParseLevel(s.ServerAccessLevel)
	if err != nil {
		return fmt.Errorf("config: serverAccessLevel: %w", err)
	}

	toggles := make(map[access.Category]bool, len(s.CategoryToggles))
	for k, v := range s.CategoryToggles {
		toggles[access.Category(k)] = v
	}

	l.mu.Lock()
	l.settings = s
	l.hash = hash
	l.mu.Unlock()

	// These two stores have their own internal locking and are safe to
	// update after releasing l.mu; readers never observe a mix of old
	// Loader.settings and new Store/Evaluator state for longer than it takes
	// these two calls to run, and neither call can itself fail.
	l.agents.Replace(agentMap, globalLevel)
	l.evaluator.SetServerCategoryToggles(toggles)

	slog.Info("config: settings applied", "hash", hash[:min(12, len(hash))], "agents", len(agentMap))
	return nil
}

// Settings returns a copy of the currently live settings.
func (l *Loader) Settings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings
}

// Hash returns the SHA-256 hex digest of the currently applied YAML.
func (l *Loader) Hash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hash
}

// Validate checks a candidate Settings value for internal consistency.
// Called by Apply before any live state is touched.
func Validate(s *Settings) error {
	if _, err := access.ParseLevel(s.ServerAccessLevel); err != nil {
		return err
	}
	if s.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rateLimitPerMinute must be positive, got %d", s.RateLimitPerMinute)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	seen := make(map[string]bool, len(s.Agents))
	for _, a := range s.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if _, err := access.ParseLevel(a.AccessLevel); err != nil {
			return fmt.Errorf("agent %q: %w", a.ID, err)
		}
	}
	if !seen[DefaultPrimaryAgentID] {
		return fmt.Errorf("settings must include the %q agent", DefaultPrimaryAgentID)
	}
	return nil
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
