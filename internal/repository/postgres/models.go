package postgres

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

type transactionModel struct {
	ID                int64           `gorm:"column:id;primaryKey"`
	PspReference      string          `gorm:"column:psp_reference"`
	MerchantReference *string         `gorm:"column:merchant_reference"`
	EventCode         string          `gorm:"column:event_code"`
	EventDate         time.Time       `gorm:"column:event_date"`
	ApprovedAmount    decimal.Decimal `gorm:"column:approved_amount;type:numeric(18,2)"`
	Currency          string          `gorm:"column:currency"`
	MerchantAccount   *string         `gorm:"column:merchant_account"`
	PaymentMethod     *string         `gorm:"column:payment_method"`
	Reason            *string         `gorm:"column:reason"`
	Success           bool            `gorm:"column:success"`
	LocationID        *string         `gorm:"column:location_id"`
	CompanyID         *int            `gorm:"column:company_id"`
	TerminalID        *string         `gorm:"column:terminal_id"`
	TenderReference   *string         `gorm:"column:tender_reference"`
	RawEvent          datatypes.JSON  `gorm:"column:raw_event"`
	ReceivedAt        time.Time       `gorm:"column:received_at"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
}

func (transactionModel) TableName() string { return "adyen_transactions" }

type credentialModel struct {
	Username  string    `gorm:"column:username;primaryKey"`
	Password  string    `gorm:"column:password"`
	IsActive  bool      `gorm:"column:is_active"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (credentialModel) TableName() string { return "webhook_credentials" }

type merchantKeyModel struct {
	MerchantAccount string    `gorm:"column:merchant_account;primaryKey"`
	HMACKey         string    `gorm:"column:hmac_key"`
	IsActive        bool      `gorm:"column:is_active"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (merchantKeyModel) TableName() string { return "merchant_hmac_keys" }

func toTransactionModel(tx *domain.Transaction) *transactionModel {
	return &transactionModel{
		PspReference:      tx.PspReference,
		MerchantReference: nullable(tx.MerchantReference),
		EventCode:         tx.EventCode,
		EventDate:         tx.EventDate.UTC(),
		ApprovedAmount:    tx.ApprovedAmount,
		Currency:          tx.Currency,
		MerchantAccount:   nullable(tx.MerchantAccount),
		PaymentMethod:     nullable(tx.PaymentMethod),
		Reason:            nullable(tx.Reason),
		Success:           tx.Success,
		LocationID:        nullable(tx.LocationID),
		CompanyID:         tx.CompanyID,
		TerminalID:        nullable(tx.TerminalID),
		TenderReference:   nullable(tx.TenderReference),
		RawEvent:          datatypes.JSON(tx.RawEvent),
		ReceivedAt:        tx.ReceivedAt.UTC(),
	}
}

func (m *transactionModel) toDomain() *domain.Transaction {
	return &domain.Transaction{
		PspReference:      m.PspReference,
		MerchantReference: deref(m.MerchantReference),
		EventCode:         m.EventCode,
		EventDate:         m.EventDate,
		ApprovedAmount:    m.ApprovedAmount,
		Currency:          m.Currency,
		MerchantAccount:   deref(m.MerchantAccount),
		PaymentMethod:     deref(m.PaymentMethod),
		Reason:            deref(m.Reason),
		Success:           m.Success,
		LocationID:        deref(m.LocationID),
		CompanyID:         m.CompanyID,
		TerminalID:        deref(m.TerminalID),
		TenderReference:   deref(m.TenderReference),
		RawEvent:          []byte(m.RawEvent),
		ReceivedAt:        m.ReceivedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
