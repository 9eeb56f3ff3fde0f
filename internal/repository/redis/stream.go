package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

const (
	StreamFieldData     = "data"
	StreamFieldReason   = "reason"
	StreamFieldSourceID = "source_id"
	StreamFieldSource   = "source_stream"

	cursorPending = "0"
	cursorNew     = ">"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// streamRedisRepository publishes normalized transactions to a Redis Stream
// and drives one consumer group over it.
type streamRedisRepository struct {
	db         redis.Cmdable
	stream     string
	group      string
	deadLetter string
}

func NewStreamRepository(db redis.Cmdable, stream, group, deadLetter string) *streamRedisRepository {
	return &streamRedisRepository{db: db, stream: stream, group: group, deadLetter: deadLetter}
}

var (
	_ core.Sink         = (*streamRedisRepository)(nil)
	_ core.StreamClient = (*streamRedisRepository)(nil)
)

// Publish appends tx as a single "data" field holding its JSON encoding.
func (r *streamRedisRepository) Publish(ctx context.Context, tx *domain.Transaction) error {
	b, err := json.Marshal(tx)
	if err != nil {
		slog.Error("[RP:Stream:Publish:01] - Failed to marshal transaction", "psp_reference", tx.PspReference, "error", err)
		return err
	}
	id, err := r.db.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{StreamFieldData: b},
	}).Result()
	if err != nil {
		slog.Error("[RP:Stream:Publish:02] - Failed to publish transaction", "stream", r.stream, "psp_reference", tx.PspReference, "error", err)
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	slog.Debug("[RP:Stream:Publish:03] - Transaction published", "stream", r.stream, "id", id, "psp_reference", tx.PspReference)
	return nil
}

// EnsureGroup creates the consumer group at the start of an existing stream.
// A missing stream is not an error: nothing has been published yet.
func (r *streamRedisRepository) EnsureGroup(ctx context.Context) error {
	n, err := r.db.Exists(ctx, r.stream).Result()
	if err != nil {
		return fmt.Errorf("exists %s: %w", r.stream, err)
	}
	if n == 0 {
		slog.Debug("[RP:Stream:EnsureGroup:01] - Stream does not exist yet", "stream", r.stream)
		return nil
	}
	err = r.db.XGroupCreate(ctx, r.stream, r.group, "0").Err()
	if err != nil {
		if isBusyGroup(err) {
			return nil
		}
		return fmt.Errorf("xgroup create %s/%s: %w", r.stream, r.group, err)
	}
	slog.Info("[RP:Stream:EnsureGroup:02] - Consumer group created", "stream", r.stream, "group", r.group)
	return nil
}

// ReadPending returns entries already delivered to consumer and not yet acknowledged.
func (r *streamRedisRepository) ReadPending(ctx context.Context, consumer string, count int64) ([]core.StreamEntry, error) {
	return r.read(ctx, consumer, cursorPending, count)
}

// ReadNew returns entries never delivered to any consumer of the group.
func (r *streamRedisRepository) ReadNew(ctx context.Context, consumer string, count int64) ([]core.StreamEntry, error) {
	return r.read(ctx, consumer, cursorNew, count)
}

func (r *streamRedisRepository) read(ctx context.Context, consumer, cursor string, count int64) ([]core.StreamEntry, error) {
	streams, err := r.db.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: consumer,
		Streams:  []string{r.stream, cursor},
		Count:    count,
		Block:    -1,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if isNoGroup(err) {
			// Nothing published yet, so EnsureGroup had no stream to attach to.
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s/%s cursor %s: %w", r.stream, r.group, cursor, err)
	}

	var entries []core.StreamEntry
	for _, s := range streams {
		for _, msg := range s.Messages {
			entries = append(entries, core.StreamEntry{ID: msg.ID, Fields: msg.Values})
		}
	}
	return entries, nil
}

func (r *streamRedisRepository) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.XAck(ctx, r.stream, r.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s/%s: %w", r.stream, r.group, err)
	}
	return nil
}

// DeliveryCounts reports how many times each pending id was delivered to consumer.
func (r *streamRedisRepository) DeliveryCounts(ctx context.Context, consumer string, ids []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	pending, err := r.db.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   r.stream,
		Group:    r.group,
		Start:    ids[0],
		End:      ids[len(ids)-1],
		Count:    int64(len(ids)),
		Consumer: consumer,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s/%s: %w", r.stream, r.group, err)
	}
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	return counts, nil
}

// DeadLetter copies entry to the dead-letter stream with the reason it was
// dropped. The caller still acknowledges the source entry.
func (r *streamRedisRepository) DeadLetter(ctx context.Context, entry core.StreamEntry, reason string) error {
	values := map[string]any{
		StreamFieldReason:   reason,
		StreamFieldSourceID: entry.ID,
		StreamFieldSource:   r.stream,
	}
	if data, ok := entry.Fields[StreamFieldData]; ok && data != nil {
		values[StreamFieldData] = data
	}
	if err := r.db.XAdd(ctx, &redis.XAddArgs{Stream: r.deadLetter, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", r.deadLetter, err)
	}
	return nil
}

// DecodeEntry extracts the transaction carried by a stream entry.
func DecodeEntry(entry core.StreamEntry) (*domain.Transaction, error) {
	raw, ok := entry.Fields[StreamFieldData]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: entry %s has no %q field", domain.ErrInvalidPayload, entry.ID, StreamFieldData)
	}
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return nil, fmt.Errorf("%w: entry %s has %T data", domain.ErrInvalidPayload, entry.ID, raw)
	}
	var tx domain.Transaction
	if err := json.Unmarshal(b, &tx); err != nil {
		return nil, fmt.Errorf("%w: entry %s: %v", domain.ErrInvalidPayload, entry.ID, err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("entry %s: %w", entry.ID, err)
	}
	return &tx, nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNoGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "NOGROUP")
}
