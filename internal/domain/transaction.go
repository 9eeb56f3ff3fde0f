package domain

import (
	stdjson "encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventAuthorisation = "AUTHORISATION"
	EventCapture       = "CAPTURE"
	EventSettlement    = "SETTLEMENT"
	EventRefund        = "REFUND"
	EventChargeback    = "CHARGEBACK"
	EventCancellation  = "CANCELLATION"
	EventSentForSettle = "SENT_FOR_SETTLE"
)

// Transaction is the normalized record derived from one notification item.
// It is immutable once built: the stream carries it serialized and the store
// keeps it as a row.
type Transaction struct {
	PspReference      string          `json:"pspReference"`
	MerchantReference string          `json:"merchantReference,omitempty"`
	EventCode         string          `json:"eventCode"`
	EventDate         time.Time       `json:"eventDate"`
	ApprovedAmount    decimal.Decimal `json:"approvedAmount"`
	Currency          string          `json:"currency"`
	MerchantAccount   string          `json:"merchantAccount"`
	PaymentMethod     string          `json:"paymentMethod,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	Success           bool            `json:"success"`
	LocationID        string          `json:"locationId,omitempty"`
	CompanyID         *int            `json:"companyId,omitempty"`
	TerminalID        string          `json:"terminalId,omitempty"`
	TenderReference   string          `json:"tenderReference,omitempty"`
	RawEvent          stdjson.RawMessage `json:"rawEvent,omitempty"`
	ReceivedAt        time.Time       `json:"receivedAt"`
}

// Validate checks the fields every persisted row must carry.
func (t *Transaction) Validate() error {
	if t.PspReference == "" {
		return fmt.Errorf("%w: pspReference is required", ErrInvalidPayload)
	}
	if t.EventCode == "" {
		return fmt.Errorf("%w: eventCode is required", ErrInvalidPayload)
	}
	return nil
}

// MinorUnitsToDecimal converts a minor-unit amount (cents) to major units.
func MinorUnitsToDecimal(value int64) decimal.Decimal {
	return decimal.New(value, -2)
}
