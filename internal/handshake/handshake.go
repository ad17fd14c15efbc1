// Package handshake implements the challenge/response check that gates all
// client traffic on the bridge.
package handshake

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// challengeBytes is the nonce size before hex encoding.
const challengeBytes = 32

// IssueChallenge returns a fresh hex-encoded random nonce.
func IssueChallenge() (string, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ExpectedResponse computes the hex-encoded HMAC-SHA256 of the challenge
// under the shared secret. Clients run the same computation.
func ExpectedResponse(challenge, sharedSecret string) string {
	mac := hmac.New(sha256.New, []byte(sharedSecret))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the candidate response matches the expected response
// for the challenge. The comparison is constant time; a length mismatch
// returns false without inspecting any bytes.
func Verify(challenge, candidateResponse, sharedSecret string) bool {
	expected := ExpectedResponse(challenge, sharedSecret)
	if len(candidateResponse) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidateResponse), []byte(expected)) == 1
}
