package backfill

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"unicode/utf8"
)

// ErrUnencodableKey is returned by SHA256Hex for keys outside the ASCII range.
var ErrUnencodableKey = errors.New("session key is not ASCII encodable")

// HashFunc derives the legacy linkage value from a natural key.
type HashFunc func(naturalKey string) (string, error)

// SHA256Hex returns the lowercase hex SHA-256 digest of key. Tokens stored
// exactly this value in their legacy session_id column.
func SHA256Hex(key string) (string, error) {
	for i := 0; i < len(key); i++ {
		if key[i] >= utf8.RuneSelf {
			return "", ErrUnencodableKey
		}
	}

	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]), nil
}
