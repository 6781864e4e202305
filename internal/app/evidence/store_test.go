package evidence

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreFetch(t *testing.T) {
	db := newTestDB(t)
	s, err := New(db, nil, 8, 0)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()

	content := []byte(`{"claim":"the deliverable is missing section 3"}`)
	uri, err := s.Store(ctx, content)
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if !strings.HasPrefix(uri, URIPrefix) || uri != URIFor(content) {
		t.Errorf("uri = %q", uri)
	}
	again, _ := s.Store(ctx, content)
	if again != uri {
		t.Errorf("second Store() = %q, want %q", again, uri)
	}

	// Fresh store so the read goes to SQLite.
	cold, _ := New(db, nil, 8, 0)
	got, err := cold.Fetch(ctx, uri)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Fetch() = %q", got)
	}
	got[0] = 'X'
	cached, _ := cold.Fetch(ctx, uri)
	if !bytes.Equal(cached, content) {
		t.Error("caller mutation leaked into the cache")
	}

	count, size, err := s.Stats()
	if err != nil || count != 1 || size != int64(len(content)) {
		t.Errorf("Stats() = %d, %d, %v", count, size, err)
	}
}

func TestStore_Rejects(t *testing.T) {
	s, _ := New(newTestDB(t), nil, 8, 16)
	ctx := context.Background()

	if _, err := s.Store(ctx, nil); !errors.Is(err, domain.ErrInvalidEvidence) {
		t.Errorf("Store(nil) error = %v", err)
	}
	if _, err := s.Store(ctx, bytes.Repeat([]byte("a"), 17)); !errors.Is(err, domain.ErrInvalidEvidence) {
		t.Errorf("Store(17 bytes) error = %v", err)
	}
}

func TestFetch_Errors(t *testing.T) {
	db := newTestDB(t)
	s, _ := New(db, nil, 8, 0)
	ctx := context.Background()

	tests := []struct {
		name string
		uri  string
		want error
	}{
		{"foreign scheme", "ipfs://bafy", domain.ErrEvidenceNotFound},
		{"short digest", URIPrefix + "abcd", domain.ErrEvidenceNotFound},
		{"missing", URIFor([]byte("never stored")), domain.ErrEvidenceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Fetch(ctx, tt.uri); !errors.Is(err, tt.want) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("corrupted", func(t *testing.T) {
		uri := URIFor([]byte("original"))
		digest, _ := ParseURI(uri)
		if err := db.PutEvidence(digest, []byte("tampered"), time.Now()); err != nil {
			t.Fatalf("PutEvidence() error: %v", err)
		}
		if _, err := s.Fetch(ctx, uri); !errors.Is(err, domain.ErrEvidenceCorrupted) {
			t.Errorf("Fetch() error = %v, want ErrEvidenceCorrupted", err)
		}
	})
}
