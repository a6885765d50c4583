package app

// Tests for the pure wiring helpers: trusted-network CIDR evaluation and
// provider selection. These use white-box (package-internal) access so the
// helpers can be tested without constructing a full App.

import (
	"testing"

	"github.com/torbobase/torbo-base/internal/llm"
)

func TestTrustedNetworkChecker_AllowsAddressesInsideConfiguredCIDRs(t *testing.T) {
	check := trustedNetworkChecker([]string{"192.168.1.0/24"})
	if !check("192.168.1.50:54321") {
		t.Fatal("expected an address inside the configured CIDR to be trusted")
	}
	if check("10.0.0.5:54321") {
		t.Fatal("expected an address outside the configured CIDR to be untrusted")
	}
}

func TestTrustedNetworkChecker_TrustsNothingWithNoConfiguredCIDRs(t *testing.T) {
	check := trustedNetworkChecker(nil)
	if check("192.168.1.50:54321") {
		t.Fatal("expected an empty CIDR list to trust no address")
	}
}

func TestTrustedNetworkChecker_IgnoresInvalidCIDRs(t *testing.T) {
	check := trustedNetworkChecker([]string{"not-a-cidr", "10.0.0.0/8"})
	if !check("10.1.2.3:1234") {
		t.Fatal("expected the valid CIDR entry to still be honored alongside an invalid one")
	}
}

func TestHostIP_HandlesAddressWithAndWithoutPort(t *testing.T) {
	if ip := hostIP("203.0.113.7:8080"); ip == nil || ip.String() != "203.0.113.7" {
		t.Fatalf("expected to parse host from a host:port address, got %v", ip)
	}
	if ip := hostIP("203.0.113.7"); ip == nil || ip.String() != "203.0.113.7" {
		t.Fatalf("expected to parse a bare host address, got %v", ip)
	}
}

func TestFirstNonEmpty_ReturnsFirstNonEmptyValue(t *testing.T) {
	if got := firstNonEmpty("", "", "key"); got != "key" {
		t.Fatalf("expected %q, got %q", "key", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty string when every value is empty, got %q", got)
	}
}

func TestBuildProviders_OnlyConstructsConfiguredProviders(t *testing.T) {
	cfg := &Config{LocalDaemonURL: "http://127.0.0.1:11434"}
	providers := buildProviders(cfg, map[string]string{})

	if _, ok := providers[llm.ProviderLocal]; !ok {
		t.Fatal("expected the local provider to always be constructed")
	}
	if _, ok := providers[llm.ProviderOpenAI]; ok {
		t.Fatal("expected no OpenAI provider without a configured key")
	}
	if _, ok := providers[llm.ProviderAnthropic]; ok {
		t.Fatal("expected no Anthropic provider without a configured key")
	}
}

func TestBuildProviders_ConstructsOpenAIWithExplicitAndStoredKeys(t *testing.T) {
	cfg := &Config{LocalDaemonURL: "http://127.0.0.1:11434", OpenAIAPIKey: "sk-explicit"}
	providers := buildProviders(cfg, map[string]string{llm.ProviderOpenAI: "sk-stored"})

	if _, ok := providers[llm.ProviderOpenAI]; !ok {
		t.Fatal("expected an OpenAI provider to be constructed when a key is configured")
	}
}
