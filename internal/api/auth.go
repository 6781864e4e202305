package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
	"github.com/tutu-network/escrow/internal/security"
)

// maxBodyBytes bounds every request body, evidence uploads included.
const maxBodyBytes = 2 << 20

type callerKey struct{}

// authenticate verifies the request signature headers, logs the signed
// digest so the request cannot be replayed, and stores the caller in the
// request context. Wallet callers are resolved through the store, so
// multisig wallets can call the API directly.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			badRequest(w, "read body: "+err.Error())
			return
		}

		var caller domain.Address
		err = s.DB.Update(r.Context(), func(tx *sqlite.Tx) error {
			now := s.Clock.Now()
			auth, err := security.NewVerifier(tx).VerifyRequest(r, body, now, s.Skew)
			if err != nil {
				return err
			}
			fresh, err := tx.RecordRequest(auth.Caller, auth.Digest, auth.Timestamp, now.Add(-s.Skew))
			if err != nil {
				return err
			}
			if !fresh {
				return fmt.Errorf("%w: request already used", domain.ErrUnauthorized)
			}
			caller = auth.Caller
			return nil
		})
		if err != nil {
			s.Logger.Debug("request rejected", "path", r.URL.Path, "error", err)
			writeError(w, err)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// callerFrom returns the authenticated caller.
func callerFrom(r *http.Request) domain.Address {
	caller, _ := r.Context().Value(callerKey{}).(domain.Address)
	return caller
}
