package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyWebhookSignature checks a hex encoded HMAC-SHA256 signature of the raw
// request body. It returns false for an absent, malformed or mismatched header
// and never panics.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}
	// Some providers prefix the digest with the algorithm.
	sig = strings.TrimPrefix(strings.ToLower(sig), "sha256=")

	decodedSig, err := hex.DecodeString(sig)
	if err != nil || len(decodedSig) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}

// VerifyWithAnySecret accepts the signature if it matches one of the secrets.
// Providers allow two secrets to be active while one is being rotated.
func VerifyWithAnySecret(payload []byte, signatureHeader string, secrets []string) bool {
	for _, secret := range secrets {
		if VerifyWebhookSignature(payload, signatureHeader, secret) {
			return true
		}
	}
	return false
}

// SignPayload returns the hex encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
