package domain

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is the derived identity of a notification's content. It is
// recomputed on every check and never stored on its own.
type Fingerprint struct {
	NormalizedTitle   string
	NormalizedMessage string
	Category          string
	Hash              string
}

// NewFingerprint normalizes the given content and derives its hash. An empty
// category falls back to DefaultCategory so that "" and "general" collide.
func NewFingerprint(title, message, category string) Fingerprint {
	fp := Fingerprint{
		NormalizedTitle:   Normalize(title),
		NormalizedMessage: Normalize(message),
		Category:          NormalizeCategory(category),
	}
	fp.Hash = HashContent(fp.NormalizedTitle, fp.NormalizedMessage, fp.Category)
	return fp
}

// HashContent hashes already-normalized content as "title|message|category"
// using xxhash64 and returns it as 16 lowercase hex characters. Equal inputs
// produce equal hashes across process runs.
func HashContent(normalizedTitle, normalizedMessage, category string) string {
	d := xxhash.New()
	_, _ = d.WriteString(normalizedTitle)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(normalizedMessage)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(category)

	h := strconv.FormatUint(d.Sum64(), 16)
	for len(h) < 16 {
		h = "0" + h
	}
	return h
}
