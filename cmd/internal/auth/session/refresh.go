package session

import (
	"crypto/rand"
	"encoding/base64"
)

// newOpaqueRefreshToken returns a URL-safe random token of nBytes entropy.
// Its length is fixed for a given nBytes.
func newOpaqueRefreshToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// maxPresentedTokenLen bounds refresh tokens read from clients.
const maxPresentedTokenLen = 4096
