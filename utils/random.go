package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns an uppercase hex string of 2*n characters,
// used for waiting-list entry IDs and ticket reference codes.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// MustGenerateCode is GenerateCode for call sites where the only
// failure mode is a broken system entropy source.
func MustGenerateCode(n int) string {
	code, err := GenerateCode(n)
	if err != nil {
		panic(err)
	}
	return code
}
