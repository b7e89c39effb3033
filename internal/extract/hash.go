package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// ContentHash computes a hex-encoded SHA-256 digest of path's contents,
// the Duplicate Detector's (C10) join key. This is deliberately separate
// from Extract: spec.md §4.1 treats hashing as lazy/on-demand rather than
// computed for every record up front, since most records are never
// compared for duplicates.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
