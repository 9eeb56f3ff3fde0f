package security_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
	"github.com/nicolasmmb/go-payment-health/internal/security"
)

type credentialStub map[string]*domain.Credential

func (s credentialStub) GetCredential(_ context.Context, username string) (*domain.Credential, error) {
	if username == "boom" {
		return nil, errors.New("database unavailable")
	}
	cred, ok := s[username]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cred, nil
}

func basic(userPass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(userPass))
}

func TestParseBasicAuth(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		user     string
		password string
		ok       bool
	}{
		{"valid", basic("adyen:secret"), "adyen", "secret", true},
		{"lower-case scheme", "basic " + base64.StdEncoding.EncodeToString([]byte("a:b")), "a", "b", true},
		{"password with colons", basic("adyen:se:cr:et"), "adyen", "se:cr:et", true},
		{"no colon", basic("adyen"), "", "", false},
		{"bearer scheme", "Bearer abc", "", "", false},
		{"not base64", "Basic !!!", "", "", false},
		{"empty", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			user, password, ok := security.ParseBasicAuth(tt.header)
			c.Assert(ok, qt.Equals, tt.ok)
			c.Assert(user, qt.Equals, tt.user)
			c.Assert(password, qt.Equals, tt.password)
		})
	}
}

func TestBasicAuthGate(t *testing.T) {
	store := credentialStub{
		"adyen":   {Username: "adyen", Secret: "s3cr:et", Active: true},
		"retired": {Username: "retired", Secret: "old", Active: false},
	}
	gate := security.NewBasicAuthGate(store)

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"valid pair", basic("adyen:s3cr:et"), true},
		{"wrong password", basic("adyen:s3cr:eT"), false},
		{"wrong password length", basic("adyen:s3"), false},
		{"wrong username", basic("nobody:s3cr:et"), false},
		{"missing header", "", false},
		{"non-basic scheme", "Digest username=adyen", false},
		{"malformed base64", "Basic ***", false},
		{"inactive credential", basic("retired:old"), false},
		{"store error", basic("boom:x"), false},
		{"empty password", basic("adyen:"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qt.Assert(t, gate.Authenticate(context.Background(), tt.header), qt.Equals, tt.want)
		})
	}
}

func TestConstantTimeEqual(t *testing.T) {
	c := qt.New(t)
	c.Assert(security.ConstantTimeEqual([]byte("abc"), []byte("abc")), qt.IsTrue)
	c.Assert(security.ConstantTimeEqual([]byte("abc"), []byte("abd")), qt.IsFalse)
	c.Assert(security.ConstantTimeEqual([]byte("abc"), []byte("abcd")), qt.IsFalse)
}
