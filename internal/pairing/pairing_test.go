package pairing_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/torbobase/torbo-base/internal/pairing"
)

func newTestManager(t *testing.T) (*pairing.Manager, *pairing.Registry) {
	t.Helper()
	dir := t.TempDir()
	key := make([]byte, 32)
	store := pairing.NewSecretStore(filepath.Join(dir, "keychain.enc"), key)
	reg := pairing.NewRegistry(30 * 24 * time.Hour)
	mgr := pairing.NewManager(store, reg, func(string) bool { return true })
	reg.SetManager(mgr)
	return mgr, reg
}

func TestPair_HappyPath(t *testing.T) {
	mgr, reg := newTestManager(t)

	code, err := mgr.RequestCode()
	if err != nil {
		t.Fatal(err)
	}

	d, err := mgr.Pair(code, "phone")
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if d.Token == "" || d.ID == "" {
		t.Fatal("expected non-empty token and id")
	}
	if !reg.IsAuthorized(d.Token) {
		t.Fatal("expected freshly paired device to be authorized")
	}
}

func TestPair_CaseInsensitive(t *testing.T) {
	mgr, _ := newTestManager(t)
	code, err := mgr.RequestCode()
	if err != nil {
		t.Fatal(err)
	}
	lower := make([]byte, len(code))
	for i, c := range []byte(code) {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
	}
	if _, err := mgr.Pair(string(lower), "phone"); err != nil {
		t.Fatalf("expected case-insensitive match to succeed: %v", err)
	}
}

func TestPair_SingleUse(t *testing.T) {
	mgr, _ := newTestManager(t)
	code, err := mgr.RequestCode()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Pair(code, "phone-1"); err != nil {
		t.Fatalf("first pair should succeed: %v", err)
	}
	if _, err := mgr.Pair(code, "phone-2"); err == nil {
		t.Fatal("expected second pair with the same code to fail")
	}
}

func TestPair_NoActiveCode(t *testing.T) {
	mgr, _ := newTestManager(t)
	if _, err := mgr.Pair("AAAAAA", "phone"); err != pairing.ErrNoActiveCode {
		t.Fatalf("expected ErrNoActiveCode, got %v", err)
	}
}

func TestAutoPair_RequiresTrustedNetwork(t *testing.T) {
	dir := t.TempDir()
	key := make([]byte, 32)
	store := pairing.NewSecretStore(filepath.Join(dir, "keychain.enc"), key)
	reg := pairing.NewRegistry(30 * 24 * time.Hour)
	mgr := pairing.NewManager(store, reg, func(string) bool { return false })
	reg.SetManager(mgr)

	if _, err := mgr.AutoPair("phone", "1.2.3.4"); err == nil {
		t.Fatal("expected auto-pair to fail on an untrusted network")
	}
}

func TestRegistry_IsAuthorized_UnknownToken(t *testing.T) {
	_, reg := newTestManager(t)
	if reg.IsAuthorized("not-a-real-token") {
		t.Fatal("expected unknown token to be unauthorized")
	}
}

func TestRegistry_ExpiryWindow(t *testing.T) {
	dir := t.TempDir()
	key := make([]byte, 32)
	store := pairing.NewSecretStore(filepath.Join(dir, "keychain.enc"), key)
	reg := pairing.NewRegistry(1 * time.Millisecond)
	mgr := pairing.NewManager(store, reg, func(string) bool { return true })
	reg.SetManager(mgr)

	code, _ := mgr.RequestCode()
	d, err := mgr.Pair(code, "phone")
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	if reg.IsAuthorized(d.Token) {
		t.Fatal("expected token to be unauthorized after the expiry window elapses")
	}
}
