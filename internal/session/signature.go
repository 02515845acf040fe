// Signed session cookie values used by the live connection handshake.

package session

import (
	"crypto/subtle"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Signed cookie values look like "s:<sessionID>.<signature>".
const signedPrefix = "s:"

// Sign returns the cookie value carrying sessionID signed with secret. The signature is an
// HMAC-SHA256 in unpadded base64url. Unsign also accepts the standard base64 alphabet, padded
// or not.
func Sign(sessionID, secret string) (string, error) {
	sig, err := signature(sessionID, secret)
	if err != nil {
		return "", err
	}
	return signedPrefix + sessionID + "." + sig, nil
}

// Unsign verifies a signed cookie value and returns the session id it carries.
// All failures look the same to the caller, the reason is never exposed.
func Unsign(value, secret string) (string, bool) {
	if unescaped, err := url.QueryUnescape(value); err == nil {
		value = unescaped
	}
	if !strings.HasPrefix(value, signedPrefix) {
		return "", false
	}
	value = strings.TrimPrefix(value, signedPrefix)

	dot := strings.LastIndexByte(value, '.')
	if dot <= 0 {
		return "", false
	}
	sessionID, got := value[:dot], normalizeSignature(value[dot+1:])

	want, err := signature(sessionID, secret)
	if err != nil {
		return "", false
	}
	if !equalSignatures(got, want) {
		return "", false
	}
	return sessionID, true
}

// HMAC-SHA256 of sessionID, raw base64url encoded.
func signature(sessionID, secret string) (string, error) {
	return jwt.SigningMethodHS256.Sign(sessionID, []byte(secret))
}

// Maps standard base64 onto the unpadded base64url alphabet. Query unescaping has already
// turned every '+' into a space.
var signatureAlphabet = strings.NewReplacer(" ", "-", "+", "-", "/", "_")

func normalizeSignature(sig string) string {
	return strings.TrimRight(signatureAlphabet.Replace(sig), "=")
}

var constantTimeCompare = subtle.ConstantTimeCompare

// The length mismatch path still runs a full compare so both rejections cost the same.
func equalSignatures(got, want string) bool {
	if len(got) != len(want) {
		constantTimeCompare([]byte(want), []byte(want))
		return false
	}
	return constantTimeCompare([]byte(got), []byte(want)) == 1
}
