package record

import (
	"crypto/sha256"
	"encoding/base64"
	"strconv"
)

// Digest returns the RECORD hash string for content: a SHA-256 digest,
// base64-encoded with the URL-safe alphabet, padding stripped, prefixed
// with "sha256=". The exact encoding is a compatibility contract with pip
// and every other consumer of the RECORD format (PEP 427).
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256=" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// EntryFor builds the RECORD row for content stored at path.
func EntryFor(path string, content []byte) Entry {
	return Entry{
		Path: path,
		Hash: Digest(content),
		Size: strconv.Itoa(len(content)),
	}
}

// SelfEntry builds the RECORD's own row, which carries no hash or size.
func SelfEntry(path string) Entry {
	return Entry{Path: path}
}
