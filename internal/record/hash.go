package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainPayload separates payload digests from any other hash in the system.
const DomainPayload = "crosstx/payload/v1"

// Digest returns the hex SHA-256 of the object's canonical encoding,
// computed as SHA256(domain || 0x00 || canonical).
func Digest(o Object) (string, error) {
	data, err := Marshal(o)
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainPayload))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustDigest is like Digest but panics on error. Use only in tests.
func MustDigest(o Object) string {
	d, err := Digest(o)
	if err != nil {
		panic(err)
	}
	return d
}
