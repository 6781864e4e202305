package security

import (
	"github.com/tutu-network/escrow/internal/domain"
)

// Verifier checks that messages were authorized by a given address,
// resolving plain keys and wallets through the lookup.
type Verifier struct {
	wallets WalletLookup
}

// NewVerifier returns a verifier. wallets may be nil (keys only).
func NewVerifier(wallets WalletLookup) *Verifier {
	return &Verifier{wallets: wallets}
}

// VerifyMessage checks sig over PersonalDigest(hash) for signer.
func (v *Verifier) VerifyMessage(signer domain.Address, hash domain.Hash, sig []byte) (bool, error) {
	s, err := SignerFor(signer, v.wallets)
	if err != nil {
		return false, err
	}
	return s.Verify(PersonalDigest(hash), sig)
}

// VerifyResult checks an agent's completion attestation over
// hash(taskID ‖ resultHash).
func (v *Verifier) VerifyResult(signer domain.Address, taskID uint64, resultHash domain.Hash, sig []byte) (bool, error) {
	return v.VerifyMessage(signer, ResultDigest(taskID, resultHash), sig)
}
