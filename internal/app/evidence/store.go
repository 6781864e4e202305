// Package evidence is the content-addressed store behind description,
// result and evidence URIs. A URI names the Keccak-256 of its content, so
// fetched bytes are verified before they are returned and cached entries
// never go stale.
package evidence

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/metrics"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
	"github.com/tutu-network/escrow/internal/security"
)

// URIPrefix starts every URI this store issues.
const URIPrefix = "cas:keccak256:"

// DefaultMaxSize bounds a single blob.
const DefaultMaxSize = 1 << 20

// Store implements domain.EvidenceStore on SQLite with an LRU read cache.
type Store struct {
	db      *sqlite.DB
	clock   domain.Clock
	cache   *lru.Cache[string, []byte]
	maxSize int
}

var _ domain.EvidenceStore = (*Store)(nil)

// New creates a store caching up to cacheSize blobs. maxSize <= 0 uses
// DefaultMaxSize.
func New(db *sqlite.DB, clock domain.Clock, cacheSize, maxSize int) (*Store, error) {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Store{db: db, clock: clock, cache: cache, maxSize: maxSize}, nil
}

// URIFor returns the URI content would be stored under.
func URIFor(content []byte) string {
	h := security.Keccak256(content)
	return URIPrefix + hex.EncodeToString(h[:])
}

// ParseURI extracts the hex digest from a store URI.
func ParseURI(uri string) (string, error) {
	digest, ok := strings.CutPrefix(uri, URIPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a %s uri", domain.ErrEvidenceNotFound, uri, URIPrefix)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != domain.HashLength {
		return "", fmt.Errorf("%w: malformed digest in %q", domain.ErrEvidenceNotFound, uri)
	}
	return strings.ToLower(digest), nil
}

// Store saves content and returns its URI. Storing the same bytes twice
// returns the same URI.
func (s *Store) Store(ctx context.Context, content []byte) (string, error) {
	if len(content) == 0 {
		return "", domain.ErrInvalidEvidence
	}
	if len(content) > s.maxSize {
		return "", fmt.Errorf("%w: evidence of %d bytes exceeds %d", domain.ErrInvalidEvidence, len(content), s.maxSize)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	uri := URIFor(content)
	digest := strings.TrimPrefix(uri, URIPrefix)
	if err := s.db.PutEvidence(digest, content, s.clock.Now()); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEvidenceStore, err)
	}
	s.cache.Add(digest, append([]byte(nil), content...))
	return uri, nil
}

// Fetch returns the content behind uri after checking it hashes to the
// digest the uri names.
func (s *Store) Fetch(ctx context.Context, uri string) ([]byte, error) {
	digest, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.cache.Get(digest); ok {
		metrics.EvidenceCache.WithLabelValues("hit").Inc()
		return append([]byte(nil), cached...), nil
	}
	metrics.EvidenceCache.WithLabelValues("miss").Inc()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := s.db.GetEvidence(digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEvidenceStore, err)
	}
	if content == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrEvidenceNotFound, uri)
	}
	if URIFor(content) != URIPrefix+digest {
		return nil, fmt.Errorf("%w: %s", domain.ErrEvidenceCorrupted, uri)
	}
	s.cache.Add(digest, content)
	return append([]byte(nil), content...), nil
}

// Stats reports the number of stored blobs and their total size.
func (s *Store) Stats() (count int, bytes int64, err error) {
	return s.db.EvidenceStats()
}
