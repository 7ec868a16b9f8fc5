package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24-character hex identifier. Projects, orders, units, and
// request ids all use this form; the order id additionally seeds the
// vendor-facing external id, so it must never collide.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
