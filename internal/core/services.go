package core

import (
	"context"
	"time"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

// CredentialStore resolves Basic-Auth clients. A missing username returns
// domain.ErrNotFound.
type CredentialStore interface {
	GetCredential(ctx context.Context, username string) (*domain.Credential, error)
}

// MerchantKeyStore resolves the base64 HMAC key for a merchant account.
type MerchantKeyStore interface {
	GetMerchantKey(ctx context.Context, merchantAccount string) (string, error)
}

// TransactionStore persists normalized transactions and answers the windowed
// aggregate queries scoring needs. Inserts are appends: redelivered events
// produce additional rows, never updates.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error

	Count(ctx context.Context, f domain.Filter) (int64, error)
	AuthorisationSummary(ctx context.Context, w domain.Window) (*domain.Summary, error)
	GroupRates(ctx context.Context, w domain.Window, dim domain.Dimension) ([]domain.GroupCount, error)
	HourlyRates(ctx context.Context, w domain.Window) ([]domain.GroupCount, error)
	EventCodeCounts(ctx context.Context, w domain.Window) (map[string]int64, error)
	// SettlementDelay counts successful authorisations in the window and those
	// older than olderThan with no CAPTURE or SETTLEMENT for the same reference.
	SettlementDelay(ctx context.Context, w domain.Window, olderThan time.Time) (total, delayed int64, err error)
	// CardRisk counts distinct cards in the window and those with at least
	// minFailures failed authorisations.
	CardRisk(ctx context.Context, w domain.Window, minFailures int) (cards, risky int64, err error)
}

// TransactionLookup returns every stored row for a processor reference.
type TransactionLookup interface {
	FindByPspReference(ctx context.Context, psp string) ([]*domain.Transaction, error)
}

// Sink is the single authoritative write path of the webhook receiver.
type Sink interface {
	Publish(ctx context.Context, tx *domain.Transaction) error
}

// StreamEntry is one entry read from a consumer group.
type StreamEntry struct {
	ID     string
	Fields map[string]any
}

// StreamClient is the consumer-group protocol of the durable stream.
type StreamClient interface {
	EnsureGroup(ctx context.Context) error
	ReadPending(ctx context.Context, consumer string, count int64) ([]StreamEntry, error)
	ReadNew(ctx context.Context, consumer string, count int64) ([]StreamEntry, error)
	Ack(ctx context.Context, ids ...string) error
	DeliveryCounts(ctx context.Context, consumer string, ids []string) (map[string]int64, error)
	DeadLetter(ctx context.Context, entry StreamEntry, reason string) error
}

// ScoreCache holds recently computed scores for a short TTL.
type ScoreCache interface {
	Get(ctx context.Context, key string) (*domain.HealthScore, bool, error)
	Set(ctx context.Context, key string, score *domain.HealthScore, ttl time.Duration) error
}

// Broadcaster fans a score out to live subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, score *domain.HealthScore) int
}
