package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader carries base64(HMAC-SHA256(secret, body)).
const SignatureHeader = "x-signature"

// Verifier authenticates callback bodies against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify reports whether signature matches body. It must be given the exact
// bytes received; a re-encoded body will not verify. An empty secret or an
// empty signature never verifies.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if v == nil || len(v.secret) == 0 {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(v.secret, body)), []byte(signature))
}

// Sign computes the signature for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
