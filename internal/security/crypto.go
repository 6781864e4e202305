// Package security provides party identities and signature verification.
// Every party has a secp256k1 keypair; its address is the last 20 bytes of
// the Keccak-256 hash of the uncompressed public key. Signatures are
// 65 bytes R||S||V over a personal-message-prefixed digest.
package security

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/tutu-network/escrow/internal/domain"
)

// SignatureLength is the size of one R||S||V signature.
const SignatureLength = 65

// Keypair holds a party's secp256k1 identity.
type Keypair struct {
	private *secp256k1.PrivateKey
	address domain.Address
}

// GenerateKeypair creates a new random keypair.
func GenerateKeypair() (*Keypair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 keypair: %w", err)
	}
	return newKeypair(priv), nil
}

// KeypairFromHex loads a keypair from a 32-byte hex private key.
func KeypairFromHex(s string) (*Keypair, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	return newKeypair(secp256k1.PrivKeyFromBytes(raw)), nil
}

func newKeypair(priv *secp256k1.PrivateKey) *Keypair {
	return &Keypair{private: priv, address: PubkeyToAddress(priv.PubKey())}
}

// LoadOrCreateKeypair loads home/keys/<name>.key, or generates and saves a
// new key on first use.
func LoadOrCreateKeypair(home, name string) (*Keypair, error) {
	keyDir := filepath.Join(home, "keys")
	privPath := filepath.Join(keyDir, name+".key")

	if b, err := os.ReadFile(privPath); err == nil {
		return KeypairFromHex(string(b))
	}

	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(privPath, []byte(kp.PrivateKeyHex()), 0600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return kp, nil
}

// Address returns the party address derived from the public key.
func (kp *Keypair) Address() domain.Address { return kp.address }

// PrivateKeyHex returns the private key as hex (for key files).
func (kp *Keypair) PrivateKeyHex() string {
	return hex.EncodeToString(kp.private.Serialize())
}

// SignDigest signs a raw 32-byte digest, returning R||S||V with V in {27,28}.
func (kp *Keypair) SignDigest(digest domain.Hash) []byte {
	compact := ecdsa.SignCompact(kp.private, digest[:], false)
	sig := make([]byte, SignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig
}

// SignMessage signs hash under the personal-message prefix.
func (kp *Keypair) SignMessage(hash domain.Hash) []byte {
	return kp.SignDigest(PersonalDigest(hash))
}

// SignResult produces the completion attestation for (taskID, resultHash).
func (kp *Keypair) SignResult(taskID uint64, resultHash domain.Hash) []byte {
	return kp.SignMessage(ResultDigest(taskID, resultHash))
}

// ─── Hashing ────────────────────────────────────────────────────────────────

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) domain.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	var out domain.Hash
	h.Sum(out[:0])
	return out
}

// PubkeyToAddress derives the 20-byte address of a public key.
func PubkeyToAddress(pub *secp256k1.PublicKey) domain.Address {
	h := Keccak256(pub.SerializeUncompressed()[1:])
	return domain.BytesToAddress(h[12:])
}

// Uint256 encodes v as a 32-byte big-endian word.
func Uint256(v uint64) []byte {
	out := make([]byte, 32)
	for i := 0; i < 8; i++ {
		out[31-i] = byte(v >> (8 * i))
	}
	return out
}

// ResultDigest is the canonical message hash(taskId ‖ resultHash) an agent
// signs to attest completion.
func ResultDigest(taskID uint64, resultHash domain.Hash) domain.Hash {
	return Keccak256(Uint256(taskID), resultHash[:])
}

// PersonalDigest applies the "\x19Ethereum Signed Message:\n32" prefix.
func PersonalDigest(hash domain.Hash) domain.Hash {
	return Keccak256([]byte("\x19Ethereum Signed Message:\n32"), hash[:])
}

// RecoverAddress returns the address that produced sig over digest.
// Wrong-length, bad recovery id, high-S and unrecoverable signatures are
// reported as domain.ErrMalformedSignature.
func RecoverAddress(digest domain.Hash, sig []byte) (domain.Address, error) {
	if len(sig) != SignatureLength {
		return domain.ZeroAddress, fmt.Errorf("%w: length %d", domain.ErrMalformedSignature, len(sig))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return domain.ZeroAddress, fmt.Errorf("%w: recovery id %d", domain.ErrMalformedSignature, sig[64])
	}

	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig[32:64]); overflow || s.IsOverHalfOrder() {
		return domain.ZeroAddress, fmt.Errorf("%w: non-canonical s", domain.ErrMalformedSignature)
	}

	compact := make([]byte, SignatureLength)
	compact[0] = v
	copy(compact[1:], sig[:64])
	pub, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return domain.ZeroAddress, fmt.Errorf("%w: %v", domain.ErrMalformedSignature, err)
	}
	return PubkeyToAddress(pub), nil
}
