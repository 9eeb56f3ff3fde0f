package security

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

const basicPrefix = "basic "

// ParseBasicAuth decodes an Authorization header value. The password is
// everything after the first colon, so it may contain colons itself.
func ParseBasicAuth(header string) (username, password string, ok bool) {
	if len(header) < len(basicPrefix) || !strings.EqualFold(header[:len(basicPrefix)], basicPrefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(basicPrefix):]))
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	return username, password, true
}

// BasicAuthGate validates Basic-Auth headers against a CredentialStore.
type BasicAuthGate struct {
	store core.CredentialStore
}

func NewBasicAuthGate(store core.CredentialStore) *BasicAuthGate {
	return &BasicAuthGate{store: store}
}

// Authenticate reports whether header carries an active credential. Every
// failure collapses to false; the reason is only logged.
func (g *BasicAuthGate) Authenticate(ctx context.Context, header string) bool {
	if header == "" {
		slog.Warn("[SC:BasicAuth:Authenticate:01] - Authorization header missing")
		return false
	}
	username, password, ok := ParseBasicAuth(header)
	if !ok {
		slog.Warn("[SC:BasicAuth:Authenticate:02] - Malformed Basic authorization header")
		return false
	}
	if strings.TrimSpace(username) == "" || password == "" {
		slog.Warn("[SC:BasicAuth:Authenticate:03] - Empty username or password")
		return false
	}

	cred, err := g.store.GetCredential(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("[SC:BasicAuth:Authenticate:04] - Unknown webhook client", "username", username)
		} else {
			slog.Error("[SC:BasicAuth:Authenticate:05] - Credential lookup failed", "username", username, "error", err)
		}
		return false
	}
	if cred == nil || !cred.Active || cred.Secret == "" {
		slog.Warn("[SC:BasicAuth:Authenticate:06] - Inactive webhook client", "username", username)
		return false
	}

	if !ConstantTimeEqual([]byte(password), []byte(cred.Secret)) {
		slog.Warn("[SC:BasicAuth:Authenticate:07] - Invalid password", "username", username)
		return false
	}
	return true
}

// ConstantTimeEqual returns early only on a length mismatch; equal-length
// inputs are compared without stopping at the first differing byte.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
