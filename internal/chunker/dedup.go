package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash returns a stable digest of the trimmed chunk body. The header
// line and metadata are deliberately excluded so re-titled duplicates
// still collide.
func Hash(body string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(body)))
	return hex.EncodeToString(sum[:])
}

func IsDuplicate(digest string, known map[string]bool) bool {
	return known[digest]
}

// Partition splits drafts into unique-by-content and duplicate sets,
// preserving first-seen order within uniques. known holds digests
// already persisted; the check runs before any embedding request so
// duplicate content never spends API quota.
func Partition(drafts []Draft, known map[string]bool) (unique, duplicate []Draft) {
	seen := make(map[string]bool, len(known)+len(drafts))
	for h := range known {
		seen[h] = true
	}

	for _, d := range drafts {
		h := Hash(d.Body)
		if seen[h] {
			duplicate = append(duplicate, d)
			continue
		}
		seen[h] = true
		unique = append(unique, d)
	}
	return unique, duplicate
}
