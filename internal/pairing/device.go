// Package pairing implements the secret store, pairing manager, and token
// registry: the bearer-token issuance machinery tied to paired client
// devices, with idle expiry and encrypted on-disk persistence.
package pairing

import "time"

// Device is the identity of a client that has completed pairing.
type Device struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Token    string     `json:"token"`
	PairedAt time.Time  `json:"pairedAt"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
	UserID   string     `json:"userId,omitempty"`
}

// lastActivity returns max(LastSeen, PairedAt).
func (d *Device) lastActivity() time.Time {
	if d.LastSeen != nil && d.LastSeen.After(d.PairedAt) {
		return *d.LastSeen
	}
	return d.PairedAt
}

// Account is the optional linked user account record persisted alongside the
// device list. AuthToken is the backend-issued token POST /pair/auth
// validates against: a client that already holds a signed-in backend
// session can pair a new device by presenting that token instead of reading
// a 6-character code off the host's display.
type Account struct {
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	AuthToken string `json:"authToken,omitempty"`
}

// keychain is the full shape of the encrypted blob: paired devices, the
// optional linked account, and provider API keys.
type keychain struct {
	Devices []*Device         `json:"devices"`
	Account *Account          `json:"account,omitempty"`
	APIKeys map[string]string `json:"apiKeys,omitempty"`
}
