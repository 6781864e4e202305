package domain

import "time"

// Wallet is a programmable account: an address with no key of its own whose
// signatures are validated by policy (here, m-of-n owner keys).
type Wallet struct {
	Address   Address   `json:"address"`
	Owners    []Address `json:"owners"`
	Threshold int       `json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}

// IsOwner reports whether addr is one of the wallet's owners.
func (w *Wallet) IsOwner(addr Address) bool {
	for _, o := range w.Owners {
		if o == addr {
			return true
		}
	}
	return false
}
