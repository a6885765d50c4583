package pairing

import (
	"sync/atomic"
	"time"
)

// DefaultExpiryWindow is how long a device may go without activity before
// IsAuthorized starts rejecting its token, even though it remains in the
// persisted list until explicitly revoked.
const DefaultExpiryWindow = 30 * 24 * time.Hour

// snapshot is an immutable view of the device list, indexed by token for
// O(1) lookup on every request.
type snapshot struct {
	byToken map[string]*Device
}

// Registry is a thin, read-only view over the pairing manager's in-memory
// device list. It exists because the HTTP dispatcher's hot auth path must
// not take the manager's write lock on every request; instead it reads an
// atomically-published immutable snapshot.
//
// The cyclic reference between the manager (which owns writes) and the
// dispatcher (which reads on every request and wants to update lastSeen)
// is broken by routing touches through this façade's Touch method rather
// than having the dispatcher call back into the manager directly.
type Registry struct {
	current      atomic.Pointer[snapshot]
	expiryWindow time.Duration
	manager      *Manager
}

// NewRegistry returns an empty Registry. Call SetManager once the Manager
// that will publish snapshots has been constructed (the two are mutually
// referential at startup).
func NewRegistry(expiryWindow time.Duration) *Registry {
	if expiryWindow <= 0 {
		expiryWindow = DefaultExpiryWindow
	}
	r := &Registry{expiryWindow: expiryWindow}
	r.current.Store(&snapshot{byToken: make(map[string]*Device)})
	return r
}

// SetManager wires the registry to the manager that will call Touch on its
// behalf. Must be called once before serving requests.
func (r *Registry) SetManager(m *Manager) {
	r.manager = m
}

func (r *Registry) publish(devices []*Device) {
	byToken := make(map[string]*Device, len(devices))
	for _, d := range devices {
		byToken[d.Token] = d
	}
	r.current.Store(&snapshot{byToken: byToken})
}

// IsAuthorized reports whether token belongs to a device whose last
// activity is within the expiry window. Expiry is evaluated at check time,
// not lazily by a background sweeper.
func (r *Registry) IsAuthorized(token string) bool {
	_, ok := r.lookup(token)
	return ok
}

// Device returns the device for token along with whether it is currently
// authorized, so callers (e.g. the dispatcher) can fetch the device ID in
// the same call that validates the token.
func (r *Registry) Device(token string) (*Device, bool) {
	return r.lookup(token)
}

func (r *Registry) lookup(token string) (*Device, bool) {
	snap := r.current.Load()
	d, ok := snap.byToken[token]
	if !ok {
		return nil, false
	}
	if time.Since(d.lastActivity()) > r.expiryWindow {
		return nil, false
	}
	return d, true
}

// Touch is the pure façade function the dispatcher calls after authorized
// requests (debounced per device by the dispatcher); it delegates the
// actual mutation to the manager,
// which owns the write path and republishes a fresh snapshot.
func (r *Registry) Touch(deviceID string) {
	if r.manager == nil {
		return
	}
	_ = r.manager.Touch(deviceID)
}
