// Package cache implements the multi-stage answer cache: exact key
// match, normalized key match, then validated semantic match. Cache
// entries are immutable once written; failures at any stage degrade
// to a miss, never to a failed request.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/corpusqa/corpusqa/internal/textnorm"
)

// Redis key prefixes. Versioned so a format change invalidates old
// entries instead of misreading them.
const (
	exactKeyPrefix    = "cache:exact:"
	normKeyPrefix     = "cache:norm:"
	semanticKeyPrefix = "cache:sem:"
	semanticIndexKey  = "cache:sem:index"
)

// Fingerprint pins a cache entry to the parameters that produced it.
// Two requests share cache entries only when their fingerprints match.
type Fingerprint struct {
	Model    string
	InitialK int
	RerankK  int
	FinalK   int
}

// canonical renders the fingerprint deterministically for hashing.
func (f Fingerprint) canonical() string {
	return fmt.Sprintf("m=%s;ik=%d;rk=%d;fk=%d", f.Model, f.InitialK, f.RerankK, f.FinalK)
}

func hashKey(prefix, text string, f Fingerprint) string {
	sum := sha256.Sum256([]byte(text + "\x00" + f.canonical()))
	return prefix + hex.EncodeToString(sum[:])
}

// ExactKey hashes the raw query text as received.
func ExactKey(raw string, f Fingerprint) string {
	return hashKey(exactKeyPrefix, raw, f)
}

// NormalizedKey hashes the normalized query text. Normalization
// failure (invalid UTF-8) is reported so the caller can skip the
// stage.
func NormalizedKey(raw string, f Fingerprint) (string, error) {
	normalized, err := textnorm.Normalize(raw)
	if err != nil {
		return "", err
	}
	return hashKey(normKeyPrefix, normalized, f), nil
}

// SemanticKey derives a storage key for a semantic entry from its
// exact key, keeping one entry per distinct query.
func SemanticKey(exactKey string) string {
	return semanticKeyPrefix + exactKey[len(exactKeyPrefix):]
}
