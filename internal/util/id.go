package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a client-generated UUID used as an entity id. Entity ids are
// minted on the device that creates the record and never change afterwards.
func NewID() string {
	return uuid.NewString()
}

// NewToken returns a URL-safe hex string for opaque credentials.
func NewToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
