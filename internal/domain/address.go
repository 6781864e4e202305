package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ─── Identities ─────────────────────────────────────────────────────────────
// Parties, tokens and wallets are all 20-byte account addresses, written as
// 0x-prefixed lowercase hex.

// AddressLength is the byte length of an account address.
const AddressLength = 20

// HashLength is the byte length of a Keccak-256 digest.
const HashLength = 32

// Address identifies a party, a token or a programmable wallet.
type Address [AddressLength]byte

// ZeroAddress is the empty identity (e.g. the agent of an unaccepted task).
var ZeroAddress Address

// ParseAddress decodes a 0x-prefixed (or bare) 40-char hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != AddressLength*2 {
		return a, fmt.Errorf("%w: address %q must be %d hex chars", ErrInvalidAddress, s, AddressLength*2)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	copy(a[:], b)
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// BytesToAddress keeps the last 20 bytes of b.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == ZeroAddress }

// String returns the lowercase 0x-hex form.
func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Hash is a 32-byte digest (result hashes, payload hashes).
type Hash [HashLength]byte

// ParseHash decodes a 0x-prefixed (or bare) 64-char hex digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(raw) != HashLength*2 {
		return h, fmt.Errorf("%w: hash must be %d hex chars", ErrInvalidHash, HashLength*2)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	copy(h[:], b)
	return h, nil
}

// IsZero reports whether h is all zero bytes.
func (h Hash) IsZero() bool { return h == Hash{} }

// String returns the lowercase 0x-hex form.
func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
