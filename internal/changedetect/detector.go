// Package changedetect decides whether a previously-crawled URL needs
// re-crawling based on its stored content fingerprint.
package changedetect

import (
	"crypto/sha256"
	"encoding/hex"
)

// Snapshot is the fingerprint of a crawl. A length-only probe (HEAD
// request) leaves ContentHash empty.
type Snapshot struct {
	ContentHash   string
	ContentLength int
}

// Fingerprint computes the full snapshot for a response body.
func Fingerprint(body []byte) Snapshot {
	sum := sha256.Sum256(body)
	return Snapshot{
		ContentHash:   hex.EncodeToString(sum[:]),
		ContentLength: len(body),
	}
}

// Detector compares a fresh probe against a prior snapshot. Strict
// mode treats an equal content length without hash evidence as
// inconclusive and re-crawls; relaxed mode accepts it as unchanged.
type Detector struct {
	strict bool
}

// New constructs a Detector.
func New(strict bool) *Detector {
	return &Detector{strict: strict}
}

// ShouldRecrawl reports whether the URL behind prev needs a fresh
// crawl given the latest probe. An empty prior snapshot always
// re-crawls.
func (d *Detector) ShouldRecrawl(prev, probe Snapshot) bool {
	if prev.ContentHash == "" && prev.ContentLength == 0 {
		return true
	}
	if prev.ContentHash != "" && probe.ContentHash != "" {
		return prev.ContentHash != probe.ContentHash
	}
	if prev.ContentLength != probe.ContentLength {
		return true
	}
	// Equal length, no hash evidence.
	return d.strict
}
