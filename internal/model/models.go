package model

import (
	"encoding/json"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

const (
	AdditionalDataSignature = "hmacSignature"
	AdditionalDataMetadata  = "metadata"
	AdditionalDataTerminal  = "terminalId"
	AdditionalDataTender    = "tenderReference"

	MetadataLocationID = "LocationId"
	MetadataCompanyID  = "CompanyId"
	MetadataTerminalID = "TerminalId"

	AcceptedResponse = "[accepted]"
)

// WebhookRequest is the processor's notification envelope. Items stay raw so
// each one can be kept verbatim for audit; decode them into NotificationItem.
type WebhookRequest struct {
	Live              string            `json:"live"`
	NotificationItems []json.RawMessage `json:"notificationItems"`
}

type NotificationItem struct {
	NotificationRequestItem *NotificationRequestItem `json:"NotificationRequestItem"`
}

// NotificationRequestItem is one event as received. Success is the source's
// string-encoded boolean.
type NotificationRequestItem struct {
	AdditionalData      domain.Metadata `json:"additionalData"`
	Amount              *Amount         `json:"amount"`
	EventCode           string          `json:"eventCode"`
	EventDate           string          `json:"eventDate"`
	MerchantAccountCode string          `json:"merchantAccountCode"`
	MerchantReference   string          `json:"merchantReference"`
	PaymentMethod       string          `json:"paymentMethod"`
	PspReference        string          `json:"pspReference"`
	Reason              string          `json:"reason"`
	Success             string          `json:"success"`
}

type Amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

type WebhookResponse struct {
	NotificationResponse string `json:"notificationResponse"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// DashboardQuery is the parsed form of GET /api/dashboard.
type DashboardQuery struct {
	StartDate  string
	EndDate    string
	LocationID string
}
