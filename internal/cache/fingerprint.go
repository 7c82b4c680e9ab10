// Package cache provides a persistent response cache keyed by normalized
// request fingerprints, so that re-running a batch replays provider lookups
// instead of repeating them over the network.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/openshelf/bibcat/internal/normalize"
)

// Fingerprint derives a stable cache key from a source name, an operation,
// and the request terms. Terms are folded (case, diacritics, punctuation,
// whitespace) and sorted before hashing, so "The Great GATSBY!" and
// "the great gatsby" produce the same key and term order never splits the
// keyspace. Empty terms are dropped so optional parameters do not either.
func Fingerprint(source, operation string, terms ...string) string {
	folded := make([]string, 0, len(terms))
	for _, term := range terms {
		f := normalize.Fold(term)
		if f == "" {
			continue
		}
		folded = append(folded, f)
	}
	sort.Strings(folded)

	parts := append([]string{strings.ToLower(source), strings.ToLower(operation)}, folded...)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
