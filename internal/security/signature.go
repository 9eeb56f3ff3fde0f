package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"regexp"
)

// signatureValue matches the JSON string value stored under "hmacSignature".
var signatureValue = regexp.MustCompile(`("hmacSignature"\s*:\s*)"(?:[^"\\]|\\.)*"`)

// SigningPayload returns the bytes a producer signs: the raw body exactly as
// received with every hmacSignature value replaced by an empty string. The
// rewrite is byte-level so whitespace and key order are preserved.
func SigningPayload(raw []byte) []byte {
	return signatureValue.ReplaceAll(raw, []byte(`$1""`))
}

// VerifySignature checks a base64 HMAC-SHA256 signature of body made with a
// base64 key. It fails closed on empty input or bad base64.
func VerifySignature(body []byte, signatureB64, keyB64 string) bool {
	if len(body) == 0 || signatureB64 == "" || keyB64 == "" {
		slog.Warn("[SC:Signature:Verify:01] - Empty body, signature or key")
		return false
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		slog.Warn("[SC:Signature:Verify:02] - Signature is not valid base64", "error", err)
		return false
	}
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		slog.Warn("[SC:Signature:Verify:03] - HMAC key is not valid base64", "error", err)
		return false
	}
	if !hmac.Equal(computeHMAC(body, key), signature) {
		slog.Warn("[SC:Signature:Verify:04] - Signature mismatch")
		return false
	}
	return true
}

// Sign produces the base64 signature VerifySignature accepts.
func Sign(body []byte, keyB64 string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(computeHMAC(body, key)), nil
}

func computeHMAC(body, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return mac.Sum(nil)
}
