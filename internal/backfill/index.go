package backfill

import (
	"fmt"
	"iter"

	"github.com/koyif/sessionlink/internal/repository"
)

// Index maps a hashed session key back to the session key.
// It is read-only once built and safe to share between goroutines.
type Index map[string]string

// Lookup returns the session key whose digest is digest.
func (ix Index) Lookup(digest string) (string, bool) {
	key, ok := ix[digest]
	return key, ok
}

// IndexStats summarizes an index build.
type IndexStats struct {
	Sessions   int64 // sessions read
	Skipped    int64 // sessions whose key could not be hashed
	Collisions int64 // digests overwritten by a later, different key
}

// BuildIndex reads every session once and indexes it by hash(session key).
//
// Sessions whose key cannot be hashed are skipped: no token can reach them.
// On a digest collision the later session wins. Only errors from the
// sequence itself are returned.
func BuildIndex(sessions iter.Seq2[*repository.Session, error], hash HashFunc) (Index, IndexStats, error) {
	if hash == nil {
		hash = SHA256Hex
	}

	index := make(Index)
	var stats IndexStats

	for s, err := range sessions {
		if err != nil {
			return nil, stats, fmt.Errorf("failed to read sessions: %w", err)
		}
		stats.Sessions++

		digest, err := hash(s.SessionKey)
		if err != nil {
			stats.Skipped++
			continue
		}

		if prev, ok := index[digest]; ok && prev != s.SessionKey {
			stats.Collisions++
		}
		index[digest] = s.SessionKey
	}

	return index, stats, nil
}
