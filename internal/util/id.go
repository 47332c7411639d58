package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID mints an opaque identifier, optionally namespaced with a prefix.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewTableID mints an identifier for a batch table created without one.
func NewTableID() string {
	return NewID("bt")
}
