package pairing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// codeAlphabet excludes ambiguous characters (no 0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// codeTTL is the single-shot pairing code lifetime.
const codeTTL = 300 * time.Second

var (
	// ErrNoActiveCode is returned when POST /pair arrives with no code
	// currently advertised.
	ErrNoActiveCode = errors.New("pairing: no active pairing code")
	// ErrCodeMismatch is returned when the supplied code doesn't match the
	// active one (case-insensitive comparison already applied).
	ErrCodeMismatch = errors.New("pairing: code does not match")
	// ErrCodeExpired is returned when the code's 300-second window elapsed.
	ErrCodeExpired = errors.New("pairing: code expired")
	// ErrNoLinkedAccount is returned by AuthenticateBackend when no account
	// record (and thus no backend auth token) has ever been linked.
	ErrNoLinkedAccount = errors.New("pairing: no linked account")
	// ErrAuthTokenMismatch is returned by AuthenticateBackend when the
	// supplied token doesn't match the linked account's.
	ErrAuthTokenMismatch = errors.New("pairing: auth token does not match")
)

// Manager generates pairing codes, issues device tokens, and tracks
// last-seen activity. It is the single writer of the in-memory device list;
// the token registry below is a read-only façade over a published snapshot.
type Manager struct {
	mu     sync.Mutex
	store  *SecretStore
	active *pendingCode

	// trustedNetwork reports whether the caller's address is eligible for
	// auto-pair. Injected so the HTTP layer's notion of "trusted LAN" stays
	// out of this package.
	trustedNetwork func(remoteAddr string) bool

	registry *Registry
}

type pendingCode struct {
	code      string
	expiresAt time.Time
	used      bool
}

// NewManager returns a Manager backed by store, publishing snapshots to reg.
func NewManager(store *SecretStore, reg *Registry, trustedNetwork func(string) bool) *Manager {
	m := &Manager{store: store, registry: reg, trustedNetwork: trustedNetwork}
	m.refreshRegistry()
	return m
}

// RequestCode generates a new 6-character pairing code and starts its
// 300-second single-shot timer, replacing any previously active code.
func (m *Manager) RequestCode() (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = &pendingCode{code: code, expiresAt: time.Now().Add(codeTTL)}
	return code, nil
}

// IsPairingActive reports whether a pairing code is currently advertised and
// unexpired, for GET /pair/info to tell a waiting client whether it should
// prompt for a code.
func (m *Manager) IsPairingActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && !m.active.used && time.Now().Before(m.active.expiresAt)
}

// Pair redeems a pairing code for a new device token. The code is
// single-use: it is marked expired immediately after consumption, whether
// consumption succeeds or not, so a raced second attempt never succeeds.
func (m *Manager) Pair(code, deviceName string) (*Device, error) {
	m.mu.Lock()
	active := m.active
	if active == nil {
		m.mu.Unlock()
		return nil, ErrNoActiveCode
	}
	if active.used {
		m.mu.Unlock()
		return nil, ErrCodeMismatch
	}
	if !equalFoldASCII(active.code, code) {
		m.mu.Unlock()
		return nil, ErrCodeMismatch
	}
	if time.Now().After(active.expiresAt) {
		m.active = nil
		m.mu.Unlock()
		return nil, ErrCodeExpired
	}
	active.used = true
	m.active = nil
	m.mu.Unlock()

	return m.issueDevice(deviceName, "")
}

// AutoPair issues a device token without a code, for callers the HTTP layer
// has already determined are on a trusted network.
func (m *Manager) AutoPair(deviceName, remoteAddr string) (*Device, error) {
	if m.trustedNetwork == nil || !m.trustedNetwork(remoteAddr) {
		return nil, fmt.Errorf("pairing: auto-pair is only available on trusted networks")
	}
	return m.issueDevice(deviceName, "")
}

// AuthenticateBackend validates authToken against the linked backend
// account record and, on a match, issues a new device token for
// deviceName tied to that account's UserID. This is the operation
// POST /pair/auth performs: a client that already holds a signed-in backend
// session pairs a new device without reading a code off the host's display.
func (m *Manager) AuthenticateBackend(authToken, deviceName string) (*Device, error) {
	account, err := m.store.Account()
	if err != nil {
		return nil, fmt.Errorf("pairing: load linked account: %w", err)
	}
	if account == nil || account.AuthToken == "" {
		return nil, ErrNoLinkedAccount
	}
	if subtle.ConstantTimeCompare([]byte(account.AuthToken), []byte(authToken)) != 1 {
		return nil, ErrAuthTokenMismatch
	}
	return m.issueDevice(deviceName, account.UserID)
}

func (m *Manager) issueDevice(deviceName, userID string) (*Device, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	d := &Device{
		ID:       uuid.NewString(),
		Name:     deviceName,
		Token:    token,
		PairedAt: time.Now().UTC(),
		UserID:   userID,
	}
	if err := m.store.PutDevice(d); err != nil {
		return nil, fmt.Errorf("pairing: persist device: %w", err)
	}
	m.refreshRegistry()
	return d, nil
}

// Touch updates a device's last-seen timestamp. Called by the token
// registry's façade on each authorized request, debounced by the caller.
func (m *Manager) Touch(deviceID string) error {
	if err := m.store.TouchLastSeen(deviceID, time.Now().UTC()); err != nil {
		return err
	}
	m.refreshRegistry()
	return nil
}

// Revoke deletes a device explicitly (operator action).
func (m *Manager) Revoke(deviceID string) error {
	if err := m.store.DeleteDevice(deviceID); err != nil {
		return err
	}
	m.refreshRegistry()
	return nil
}

// refreshRegistry reloads the device list from the store and publishes a
// fresh immutable snapshot to the registry.
func (m *Manager) refreshRegistry() {
	devices, err := m.store.Devices()
	if err != nil {
		return
	}
	m.registry.publish(devices)
}

func generateCode() (string, error) {
	raw := make([]byte, codeLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("pairing: generate code entropy: %w", err)
	}
	out := make([]byte, codeLength)
	for i, b := range raw {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// generateToken produces a 256-bit CSPRNG token, base64url-encoded with
// padding stripped. Tokens are never re-derived from the device name.
func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("pairing: generate token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
