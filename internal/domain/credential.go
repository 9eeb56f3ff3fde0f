package domain

// Credential is a Basic-Auth client allowed to post notifications.
type Credential struct {
	Username string
	Secret   string
	Active   bool
}

// MerchantKey is the base64 HMAC key configured for a merchant account.
type MerchantKey struct {
	MerchantAccount string
	HMACKey         string
}
