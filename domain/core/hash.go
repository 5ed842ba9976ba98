package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// Short returns the first 12 hex characters, enough for log lines.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// ComputeFingerprint hashes an ordered list of records. Each record is a set
// of fields; field order inside a record is normalized so equivalent records
// always hash the same.
func ComputeFingerprint(records [][]string) Hash {
	var data strings.Builder
	for _, rec := range records {
		fields := append([]string(nil), rec...)
		sort.Strings(fields)
		data.WriteString(strings.Join(fields, "\x1f"))
		data.WriteString("\x1e")
	}
	return NewHash([]byte(data.String()))
}
