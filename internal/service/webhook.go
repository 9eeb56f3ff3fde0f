package service

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
	"github.com/nicolasmmb/go-payment-health/internal/metrics"
	"github.com/nicolasmmb/go-payment-health/internal/model"
	"github.com/nicolasmmb/go-payment-health/internal/security"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrPublishFailed means at least one verified item could not be handed to the
// write path. The processor should redeliver the whole notification.
var ErrPublishFailed = errors.New("publish failed")

var eventDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Authenticator validates an Authorization header.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) bool
}

// WebhookService authenticates notification requests and hands every
// normalized transaction to exactly one Sink.
type WebhookService struct {
	auth Authenticator
	keys core.MerchantKeyStore
	sink core.Sink
	now  func() time.Time
}

func NewWebhookService(auth Authenticator, keys core.MerchantKeyStore, sink core.Sink) *WebhookService {
	return &WebhookService{auth: auth, keys: keys, sink: sink, now: time.Now}
}

type verifiedItem struct {
	raw  []byte
	item *model.NotificationRequestItem
}

// Receive processes one webhook request. Every item is checked before any is
// published, so a 400 or 401 never leaves a partial write behind.
func (s *WebhookService) Receive(ctx context.Context, authHeader string, body []byte) (*model.WebhookResponse, error) {
	metrics.WebhooksReceived.Inc()

	if !s.auth.Authenticate(ctx, authHeader) {
		metrics.WebhooksRejected.WithLabelValues("basic_auth").Inc()
		return nil, domain.ErrUnauthenticated
	}

	var req model.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.WebhooksRejected.WithLabelValues("malformed_body").Inc()
		slog.Warn("[SV:Webhook:Receive:01] - Unparseable notification body", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	signed := security.SigningPayload(body)
	items := make([]verifiedItem, 0, len(req.NotificationItems))
	for i, raw := range req.NotificationItems {
		var wrapper model.NotificationItem
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			metrics.WebhooksRejected.WithLabelValues("malformed_item").Inc()
			return nil, fmt.Errorf("%w: item %d: %v", domain.ErrInvalidPayload, i, err)
		}
		item := wrapper.NotificationRequestItem
		if item == nil {
			slog.Warn("[SV:Webhook:Receive:02] - Notification item without NotificationRequestItem, skipping", "index", i)
			metrics.ItemsSkipped.Inc()
			continue
		}
		if err := s.verify(ctx, i, signed, item); err != nil {
			return nil, err
		}
		items = append(items, verifiedItem{raw: raw, item: item})
	}

	var published, failed int
	for _, v := range items {
		tx, err := s.normalize(v.item, v.raw)
		if err != nil {
			slog.Warn("[SV:Webhook:Receive:03] - Skipping notification item", "psp_reference", v.item.PspReference, "error", err)
			metrics.ItemsSkipped.Inc()
			continue
		}
		if err := s.sink.Publish(ctx, tx); err != nil {
			slog.Error("[SV:Webhook:Receive:04] - Failed to publish transaction", "psp_reference", tx.PspReference, "event_code", tx.EventCode, "error", err)
			failed++
			continue
		}
		published++
		metrics.ItemsPublished.Inc()
	}
	if failed > 0 {
		return nil, fmt.Errorf("%w: %d of %d items", ErrPublishFailed, failed, len(items))
	}

	slog.Info("[SV:Webhook:Receive:05] - Notification accepted", "items", len(req.NotificationItems), "published", published)
	return &model.WebhookResponse{NotificationResponse: model.AcceptedResponse}, nil
}

// verify requires the signature and merchant of one item and checks the
// signature with that merchant's key.
func (s *WebhookService) verify(ctx context.Context, index int, signed []byte, item *model.NotificationRequestItem) error {
	signature, ok := item.AdditionalData.String(model.AdditionalDataSignature)
	if !ok || signature == "" {
		metrics.WebhooksRejected.WithLabelValues("missing_signature").Inc()
		return fmt.Errorf("%w: item %d has no %s", domain.ErrInvalidPayload, index, model.AdditionalDataSignature)
	}
	merchant := strings.TrimSpace(item.MerchantAccountCode)
	if merchant == "" {
		metrics.WebhooksRejected.WithLabelValues("missing_merchant").Inc()
		return fmt.Errorf("%w: item %d has no merchantAccountCode", domain.ErrInvalidPayload, index)
	}

	key, err := s.keys.GetMerchantKey(ctx, merchant)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("[SV:Webhook:Verify:01] - Merchant key lookup failed", "merchant", merchant, "error", err)
			return fmt.Errorf("merchant key %s: %w", merchant, err)
		}
		slog.Warn("[SV:Webhook:Verify:02] - Unknown merchant account", "merchant", merchant)
		metrics.WebhooksRejected.WithLabelValues("unknown_merchant").Inc()
		return domain.ErrUnauthenticated
	}
	if !security.VerifySignature(signed, signature, key) {
		slog.Warn("[SV:Webhook:Verify:03] - Invalid HMAC signature", "merchant", merchant, "psp_reference", item.PspReference)
		metrics.WebhooksRejected.WithLabelValues("signature").Inc()
		return domain.ErrUnauthenticated
	}
	return nil
}

// normalize builds the canonical record for one verified item.
func (s *WebhookService) normalize(item *model.NotificationRequestItem, raw []byte) (*domain.Transaction, error) {
	tx := &domain.Transaction{
		PspReference:      item.PspReference,
		MerchantReference: item.MerchantReference,
		EventCode:         strings.ToUpper(strings.TrimSpace(item.EventCode)),
		EventDate:         s.parseEventDate(item.EventDate),
		ApprovedAmount:    domain.MinorUnitsToDecimal(0),
		MerchantAccount:   strings.TrimSpace(item.MerchantAccountCode),
		PaymentMethod:     item.PaymentMethod,
		Reason:            item.Reason,
		Success:           strings.EqualFold(strings.TrimSpace(item.Success), "true"),
		ReceivedAt:        s.now().UTC(),
	}
	if item.Amount != nil {
		tx.ApprovedAmount = domain.MinorUnitsToDecimal(item.Amount.Value)
		tx.Currency = item.Amount.Currency
	}

	if meta, ok := item.AdditionalData.Object(model.AdditionalDataMetadata); ok {
		tx.LocationID, _ = meta.String(model.MetadataLocationID)
		if id, ok := meta.Int(model.MetadataCompanyID); ok {
			tx.CompanyID = &id
		}
		tx.TerminalID, _ = meta.String(model.MetadataTerminalID)
	}
	if tx.TerminalID == "" {
		tx.TerminalID, _ = item.AdditionalData.String(model.AdditionalDataTerminal)
	}
	tx.TenderReference, _ = item.AdditionalData.String(model.AdditionalDataTender)

	var compact bytes.Buffer
	if err := stdjson.Compact(&compact, raw); err == nil {
		tx.RawEvent = compact.Bytes()
	}

	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// parseEventDate never fails: an unreadable date becomes the current time.
func (s *WebhookService) parseEventDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value != "" {
		for _, layout := range eventDateLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t.UTC()
			}
		}
	}
	now := s.now().UTC()
	slog.Warn("[SV:Webhook:ParseEventDate:01] - Could not parse event date, using current time", "event_date", value)
	return now
}

// storeSink makes the Transaction Store the authoritative write path.
type storeSink struct {
	store core.TransactionStore
}

func NewStoreSink(store core.TransactionStore) core.Sink {
	return &storeSink{store: store}
}

func (s *storeSink) Publish(ctx context.Context, tx *domain.Transaction) error {
	return s.store.InsertTransaction(ctx, tx)
}
