package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID generates a random 96-bit identifier as lowercase hex. Used
// for request ids and queue consumer names, where collisions only cost
// log clarity; persisted records use real UUIDs instead.
func NewID() string {
	var buf [12]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
