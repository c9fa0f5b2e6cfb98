package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// sessionIDNamespace is the fixed UUID namespace for deriving session
// identifiers. Changing it would orphan every stored session.
var sessionIDNamespace = uuid.MustParse("7c9e4a2d-18b3-4f6e-9c51-d0a8e3b72f14")

// DocumentIDFromPath derives a stable document identity from a document path
// or URI. The scheme and authority are dropped, the file extension is
// removed, and every run of characters outside [A-Za-z0-9_-] collapses to a
// single dash, so "s3://confirmations/BANK/X.pdf" and "BANK/X.pdf" both
// yield "BANK-X".
func DocumentIDFromPath(documentPath string) string {
	p := strings.TrimSpace(documentPath)

	if u, err := url.Parse(p); err == nil && u.Scheme != "" && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimSuffix(p, path.Ext(p))

	var b strings.Builder
	b.Grow(len(p))
	lastDash := true
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	id := strings.Trim(b.String(), "-")
	if id == "" {
		return "document"
	}
	return id
}

// SessionIDForDocument derives the deterministic session identity for a
// document, so independent callers processing the same document converge on
// a single session record.
func SessionIDForDocument(documentID string) string {
	return uuid.NewSHA1(sessionIDNamespace, []byte(documentID)).String()
}

// FingerprintFor computes the idempotency fingerprint for a document and
// source side. The bank and counterparty copies of the same document
// fingerprint differently.
func FingerprintFor(documentID string, sourceType SourceType) string {
	sum := sha256.Sum256([]byte(documentID + "|" + string(sourceType)))
	return hex.EncodeToString(sum[:])
}

// NewCorrelationID generates a fresh correlation identifier for requests
// that did not carry one.
func NewCorrelationID() string {
	return uuid.New().String()
}
