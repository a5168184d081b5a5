package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"

	"golang.org/x/oauth2"
)

// RFC 7636 unreserved characters.
const verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// NewCodeVerifier returns a random PKCE verifier of 43 to 128 characters.
func NewCodeVerifier(length int) (string, error) {
	if length < 43 || length > 128 {
		return "", fmt.Errorf("code verifier length must be between 43 and 128, got %d", length)
	}

	max := big.NewInt(int64(len(verifierCharset)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code verifier: %w", err)
		}
		b[i] = verifierCharset[n.Int64()]
	}
	return string(b), nil
}

// VerifyChallenge reports whether challenge is the S256 transform of
// verifier.
func VerifyChallenge(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	expected := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) == 1
}
