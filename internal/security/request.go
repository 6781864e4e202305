package security

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/escrow/internal/domain"
)

// Signed request headers. The signature covers method, path, timestamp,
// nonce and body, so a captured request cannot be replayed against another
// route. Replays of the same request are caught by the server's nonce log.
const (
	HeaderCaller    = "X-Escrow-Caller"
	HeaderTimestamp = "X-Escrow-Timestamp"
	HeaderNonce     = "X-Escrow-Nonce"
	HeaderSignature = "X-Escrow-Signature"
)

// DefaultRequestSkew bounds how far a request timestamp may drift.
const DefaultRequestSkew = 5 * time.Minute

// maxNonceLen bounds the nonce header.
const maxNonceLen = 128

// RequestAuth is an authenticated request: who signed it and what digest
// they signed. The digest is unique per request and keys the replay log.
type RequestAuth struct {
	Caller    domain.Address
	Digest    domain.Hash
	Timestamp time.Time
}

// RequestDigest hashes the parts of a request that a caller signs.
func RequestDigest(method, path string, timestamp int64, nonce string, body []byte) domain.Hash {
	bodyHash := Keccak256(body)
	return Keccak256(
		[]byte(strings.ToUpper(method)), []byte("\n"),
		[]byte(path), []byte("\n"),
		[]byte(strconv.FormatInt(timestamp, 10)), []byte("\n"),
		[]byte(nonce), []byte("\n"),
		bodyHash[:],
	)
}

// SignRequest sets the auth headers on r with a fresh nonce. For a key
// caller pass its own keypair; for a wallet caller pass enough owner
// keypairs.
func SignRequest(r *http.Request, body []byte, caller domain.Address, now time.Time, keys ...*Keypair) {
	ts := now.Unix()
	nonce := uuid.NewString()
	digest := RequestDigest(r.Method, r.URL.Path, ts, nonce, body)
	var sig []byte
	for _, kp := range keys {
		sig = append(sig, kp.SignMessage(digest)...)
	}
	r.Header.Set(HeaderCaller, caller.String())
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(HeaderNonce, nonce)
	r.Header.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))
}

// VerifyRequest authenticates r. It checks the signature and the timestamp
// window only; the caller must still record the digest to reject replays.
func (v *Verifier) VerifyRequest(r *http.Request, body []byte, now time.Time, skew time.Duration) (RequestAuth, error) {
	caller, err := domain.ParseAddress(r.Header.Get(HeaderCaller))
	if err != nil {
		return RequestAuth{}, fmt.Errorf("%w: caller header: %v", domain.ErrUnauthorized, err)
	}
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return RequestAuth{}, fmt.Errorf("%w: timestamp header", domain.ErrUnauthorized)
	}
	if d := now.Sub(time.Unix(ts, 0)); d > skew || d < -skew {
		return RequestAuth{}, fmt.Errorf("%w: timestamp outside %s skew", domain.ErrUnauthorized, skew)
	}
	nonce := r.Header.Get(HeaderNonce)
	if nonce == "" || len(nonce) > maxNonceLen {
		return RequestAuth{}, fmt.Errorf("%w: nonce header", domain.ErrUnauthorized)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(r.Header.Get(HeaderSignature), "0x"))
	if err != nil {
		return RequestAuth{}, fmt.Errorf("%w: signature header", domain.ErrUnauthorized)
	}

	digest := RequestDigest(r.Method, r.URL.Path, ts, nonce, body)
	ok, err := v.VerifyMessage(caller, digest, sig)
	if err != nil {
		return RequestAuth{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !ok {
		return RequestAuth{}, fmt.Errorf("%w: signature does not match caller", domain.ErrUnauthorized)
	}
	return RequestAuth{Caller: caller, Digest: digest, Timestamp: time.Unix(ts, 0).UTC()}, nil
}
