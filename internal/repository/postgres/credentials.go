package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

type credentialRepository struct {
	db *gorm.DB
}

var (
	_ core.CredentialStore  = (*credentialRepository)(nil)
	_ core.MerchantKeyStore = (*credentialRepository)(nil)
)

// NewCredentialRepository serves both webhook_credentials and
// merchant_hmac_keys.
func NewCredentialRepository(db *gorm.DB) *credentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) GetCredential(ctx context.Context, username string) (*domain.Credential, error) {
	var rec credentialModel
	err := r.db.WithContext(ctx).Where("username = ?", username).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &domain.Credential{Username: rec.Username, Secret: rec.Password, Active: rec.IsActive}, nil
}

// GetMerchantKey returns the key of an active merchant account.
func (r *credentialRepository) GetMerchantKey(ctx context.Context, merchantAccount string) (string, error) {
	var rec merchantKeyModel
	err := r.db.WithContext(ctx).
		Where("merchant_account = ? AND is_active", merchantAccount).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("get merchant key: %w", err)
	}
	return rec.HMACKey, nil
}
