package httpsig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const hmacPrefix = "sha256="

// SignHMAC returns the X-Hub-Signature value for body signed with secret.
func SignHMAC(body []byte, secret string) string {
	return hmacPrefix + computeHMAC(body, secret)
}

// VerifyHMAC checks an X-Hub-Signature header against body.
func VerifyHMAC(body []byte, secret, header string) error {
	if header == "" {
		return ErrMissingSignature
	}
	sig, ok := strings.CutPrefix(header, hmacPrefix)
	if !ok {
		return ErrInvalidSignature
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrInvalidSignature
	}
	return nil
}

// computeHMAC generates a hex HMAC-SHA256 of the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
