// Package idgen provides cryptographically random ID generation.
//
// Entity IDs carry a short prefix naming the record type:
// usr_ (users), prd_ (products), ord_ (orders), dsp_ (disputes),
// wd_ (withdrawals), ntf_ (notifications).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix generates a random ID of prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Reference generates a gateway-correlatable payment reference.
// References are longer than entity IDs since they cross a trust boundary.
func Reference() string {
	return "ref_" + Hex(16)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
