package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks a GitHub-style HMAC-SHA256 signature header
// ("sha256=<hex>") over the raw request body. Comparison is constant
// time.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}

	provided := strings.TrimPrefix(header, "sha256=")
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}

// SignBody produces the signature header value for a body, used by
// tests and outbound callbacks.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
