package grant

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"regexp"
)

const (
	CodeChallengeMethodS256  = "S256"
	CodeChallengeMethodPlain = "plain"
)

// RFC 7636 §4.1: 43-128 unreserved characters.
var codeVerifierRe = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

// GenerateCodeVerifier returns a cryptographically-secure random string
// (code_verifier) conforming to RFC 7636 (length 43–128, unreserved chars).
func GenerateCodeVerifier() (string, error) {
	// 64 random bytes → 86-character base64url string (within 43–128)
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("pkce: failed to generate verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateCodeChallenge returns the S256 code_challenge for the given verifier.
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateCodeChallenge checks that SHA256(verifier) matches the challenge.
func ValidateCodeChallenge(verifier, challenge string) bool {
	return subtle.ConstantTimeCompare([]byte(GenerateCodeChallenge(verifier)), []byte(challenge)) == 1
}

// VerifyCodeVerifier checks verifier against a challenge stored with method.
func VerifyCodeVerifier(method, verifier, challenge string) bool {
	if !codeVerifierRe.MatchString(verifier) {
		return false
	}
	switch method {
	case CodeChallengeMethodS256:
		return ValidateCodeChallenge(verifier, challenge)
	case CodeChallengeMethodPlain, "":
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}

func isCodeChallengeMethod(method string) bool {
	return method == CodeChallengeMethodS256 || method == CodeChallengeMethodPlain
}

func isCodeChallenge(challenge string) bool {
	return codeVerifierRe.MatchString(challenge)
}
