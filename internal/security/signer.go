package security

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/tutu-network/escrow/internal/domain"
)

// ─── Signer Capability ──────────────────────────────────────────────────────
// A party is either a bare key (signatures are checked by recovery) or a
// programmable wallet (signatures are handed to the wallet's own validation
// callback). Callers never need to know which.

// Signer verifies signatures on behalf of one address.
type Signer interface {
	Address() domain.Address
	// Verify checks sig over the already-prefixed digest. A well-formed
	// signature by someone else yields (false, nil); only malformed input
	// returns an error.
	Verify(digest domain.Hash, sig []byte) (bool, error)
}

// KeySigner is a party holding its own private key.
type KeySigner struct {
	addr domain.Address
}

// NewKeySigner returns a recovery-based signer for addr.
func NewKeySigner(addr domain.Address) KeySigner { return KeySigner{addr: addr} }

// Address implements Signer.
func (k KeySigner) Address() domain.Address { return k.addr }

// Verify implements Signer.
func (k KeySigner) Verify(digest domain.Hash, sig []byte) (bool, error) {
	got, err := RecoverAddress(digest, sig)
	if err != nil {
		return false, err
	}
	return got == k.addr, nil
}

// MagicValue is what a wallet's validation callback returns for a valid
// signature; anything else means invalid.
var MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

var invalidValue = [4]byte{0xff, 0xff, 0xff, 0xff}

// Validator is a wallet's signature validation callback.
type Validator interface {
	IsValidSignature(digest domain.Hash, sig []byte) [4]byte
}

// WalletSigner delegates to the wallet's validator.
type WalletSigner struct {
	addr      domain.Address
	validator Validator
}

// NewWalletSigner returns a delegating signer.
func NewWalletSigner(addr domain.Address, v Validator) WalletSigner {
	return WalletSigner{addr: addr, validator: v}
}

// Address implements Signer.
func (w WalletSigner) Address() domain.Address { return w.addr }

// Verify implements Signer.
func (w WalletSigner) Verify(digest domain.Hash, sig []byte) (bool, error) {
	if len(sig) == 0 || len(sig)%SignatureLength != 0 {
		return false, fmt.Errorf("%w: wallet signature length %d", domain.ErrMalformedSignature, len(sig))
	}
	return w.validator.IsValidSignature(digest, sig) == MagicValue, nil
}

// ─── Multisig Wallet ────────────────────────────────────────────────────────

// Multisig validates a concatenation of owner signatures against an m-of-n
// policy. Each owner counts once.
type Multisig struct {
	wallet domain.Wallet
}

// NewMultisig wraps a registered wallet definition.
func NewMultisig(w domain.Wallet) *Multisig { return &Multisig{wallet: w} }

// IsValidSignature implements Validator.
func (m *Multisig) IsValidSignature(digest domain.Hash, sig []byte) [4]byte {
	if len(sig)%SignatureLength != 0 {
		return invalidValue
	}
	seen := make(map[domain.Address]bool)
	for off := 0; off < len(sig); off += SignatureLength {
		signer, err := RecoverAddress(digest, sig[off:off+SignatureLength])
		if err != nil || !m.wallet.IsOwner(signer) || seen[signer] {
			return invalidValue
		}
		seen[signer] = true
	}
	if len(seen) < m.wallet.Threshold {
		return invalidValue
	}
	return MagicValue
}

// NewWallet normalizes owners, checks the policy and derives the wallet
// address from (owners, threshold, salt).
func NewWallet(owners []domain.Address, threshold int, salt uint64) (domain.Wallet, error) {
	uniq := make(map[domain.Address]bool)
	var sorted []domain.Address
	for _, o := range owners {
		if o.IsZero() {
			return domain.Wallet{}, fmt.Errorf("%w: zero owner", domain.ErrInvalidWallet)
		}
		if !uniq[o] {
			uniq[o] = true
			sorted = append(sorted, o)
		}
	}
	if len(sorted) == 0 {
		return domain.Wallet{}, fmt.Errorf("%w: no owners", domain.ErrInvalidWallet)
	}
	if threshold < 1 || threshold > len(sorted) {
		return domain.Wallet{}, fmt.Errorf("%w: threshold %d of %d owners", domain.ErrInvalidWallet, threshold, len(sorted))
	}
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })

	parts := [][]byte{[]byte("escrow-wallet")}
	for _, o := range sorted {
		parts = append(parts, o[:])
	}
	parts = append(parts, Uint256(uint64(threshold)), Uint256(salt))
	h := Keccak256(parts...)

	return domain.Wallet{
		Address:   domain.BytesToAddress(h[12:]),
		Owners:    sorted,
		Threshold: threshold,
	}, nil
}

// ─── Resolution ─────────────────────────────────────────────────────────────

// WalletLookup finds a registered wallet; it returns (nil, nil) when addr is
// a plain key.
type WalletLookup interface {
	Wallet(addr domain.Address) (*domain.Wallet, error)
}

// SignerFor picks the signer variant for addr by checking whether it is a
// registered wallet.
func SignerFor(addr domain.Address, wallets WalletLookup) (Signer, error) {
	if wallets != nil {
		w, err := wallets.Wallet(addr)
		if err != nil {
			return nil, fmt.Errorf("lookup wallet %s: %w", addr, err)
		}
		if w != nil {
			return NewWalletSigner(addr, NewMultisig(*w)), nil
		}
	}
	return NewKeySigner(addr), nil
}
