// Package hash computes content-addressed digests: SHA-256 over a
// type-prefixed header plus the canonical byte payload, so objects of
// different types never collide even when their payloads happen to match.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/agentvcs/agentvcs/internal/canon"
)

// Digest is a 64-character lowercase hex SHA-256 value. It is an opaque
// identifier: never parsed, only compared by value.
type Digest string

// ObjectType tags the kind of content-addressed object being hashed.
type ObjectType string

const (
	Blob   ObjectType = "blob"
	Commit ObjectType = "commit"
)

// Of computes SHA-256("<type> <len>\0<content>").
func Of(objType ObjectType, content []byte) Digest {
	header := fmt.Sprintf("%s %d\x00", objType, len(content))
	h := sha256.New()
	h.Write([]byte(header))
	h.Write(content)
	return Digest(hex.EncodeToString(h.Sum(nil)))
}

// OfState canonical-serializes value and hashes it as a blob digest. This
// is the hash callers use before an AgentState has been wrapped in a Blob.
func OfState(value any) (Digest, error) {
	content, err := canon.Encode(value)
	if err != nil {
		return "", err
	}
	return Of(Blob, content), nil
}

// Short returns the first 8 hex characters, for display.
func (d Digest) Short() string {
	s := string(d)
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

func (d Digest) String() string { return string(d) }
