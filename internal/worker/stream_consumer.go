package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/metrics"
	"github.com/nicolasmmb/go-payment-health/internal/repository/redis"
)

const (
	DEFAULT_BATCH_SIZE    = 10
	DEFAULT_POLL_INTERVAL = 1000 * time.Millisecond
	ERROR_RETRY_DELAY     = 5 * time.Second
	ENTRY_TIMEOUT         = 30 * time.Second

	reasonUndecodable   = "undecodable"
	reasonMaxDeliveries = "max_deliveries"
)

type StreamConsumerConfig struct {
	ConsumerID   string
	BatchSize    int
	PollInterval time.Duration
	// MaxDeliveries dead-letters a pending entry once it has been delivered
	// more times than this. Zero retries forever.
	MaxDeliveries int
	ErrorDelay    time.Duration
	// EntryTimeout bounds the store write and acknowledgement of one entry.
	EntryTimeout time.Duration
}

// streamConsumerWorker drains one consumer id of the group into the store.
type streamConsumerWorker struct {
	stream core.StreamClient
	store  core.TransactionStore
	cfg    StreamConsumerConfig
}

func NewStreamConsumerWorker(stream core.StreamClient, store core.TransactionStore, cfg StreamConsumerConfig) *streamConsumerWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DEFAULT_BATCH_SIZE
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DEFAULT_POLL_INTERVAL
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = ERROR_RETRY_DELAY
	}
	if cfg.EntryTimeout <= 0 {
		cfg.EntryTimeout = ENTRY_TIMEOUT
	}
	return &streamConsumerWorker{stream: stream, store: store, cfg: cfg}
}

// Run loops until ctx is cancelled. Cancellation is checked between cycles,
// so a batch in progress always finishes acknowledging.
func (w *streamConsumerWorker) Run(ctx context.Context) {
	slog.Info("[WK:StreamConsumer:Run:01] - Consumer started", "consumer", w.cfg.ConsumerID, "batch", w.cfg.BatchSize, "poll", w.cfg.PollInterval)
	for {
		if ctx.Err() != nil {
			slog.Info("[WK:StreamConsumer:Run:02] - Consumer stopped", "consumer", w.cfg.ConsumerID)
			return
		}
		idle, err := w.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			// Shutting down; the failure is the cancellation itself.
			continue
		case err != nil:
			slog.Warn("[WK:StreamConsumer:Run:03] - Consumer cycle failed, retrying", "consumer", w.cfg.ConsumerID, "delay", w.cfg.ErrorDelay, "error", err)
			sleep(ctx, w.cfg.ErrorDelay)
		case idle:
			sleep(ctx, w.cfg.PollInterval)
		}
	}
}

// RunOnce performs one cycle: ensure the group, retry this consumer's pending
// entries, then take a batch of new ones. idle is true when no new entries
// were available.
func (w *streamConsumerWorker) RunOnce(ctx context.Context) (idle bool, err error) {
	if err := w.stream.EnsureGroup(ctx); err != nil {
		return false, err
	}

	pending, err := w.stream.ReadPending(ctx, w.cfg.ConsumerID, int64(w.cfg.BatchSize))
	if err != nil {
		return false, err
	}
	if len(pending) > 0 {
		slog.Info("[WK:StreamConsumer:RunOnce:01] - Retrying pending entries", "consumer", w.cfg.ConsumerID, "count", len(pending))
		pending, err = w.dropExhausted(ctx, pending)
		if err != nil {
			return false, err
		}
		w.processBatch(ctx, pending)
	}

	entries, err := w.stream.ReadNew(ctx, w.cfg.ConsumerID, int64(w.cfg.BatchSize))
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return true, nil
	}
	w.processBatch(ctx, entries)
	return false, nil
}

// dropExhausted dead-letters pending entries over the delivery limit and
// returns the rest.
func (w *streamConsumerWorker) dropExhausted(ctx context.Context, entries []core.StreamEntry) ([]core.StreamEntry, error) {
	if w.cfg.MaxDeliveries <= 0 {
		return entries, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	counts, err := w.stream.DeliveryCounts(ctx, w.cfg.ConsumerID, ids)
	if err != nil {
		return nil, err
	}

	keep := entries[:0:0]
	for _, e := range entries {
		n := counts[e.ID]
		if n <= int64(w.cfg.MaxDeliveries) {
			keep = append(keep, e)
			continue
		}
		slog.Error("[WK:StreamConsumer:DropExhausted:01] - Entry exceeded max deliveries", "consumer", w.cfg.ConsumerID, "id", e.ID, "deliveries", n, "max", w.cfg.MaxDeliveries)
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.EntryTimeout)
		w.deadLetter(dctx, e, reasonMaxDeliveries)
		cancel()
	}
	return keep, nil
}

func (w *streamConsumerWorker) processBatch(ctx context.Context, entries []core.StreamEntry) {
	// The batch runs to completion even if ctx is cancelled meanwhile.
	ctx = context.WithoutCancel(ctx)
	for _, e := range entries {
		w.processEntry(ctx, e)
	}
}

func (w *streamConsumerWorker) processEntry(ctx context.Context, e core.StreamEntry) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.EntryTimeout)
	defer cancel()

	tx, err := redis.DecodeEntry(e)
	if err != nil {
		slog.Error("[WK:StreamConsumer:Process:01] - Poisoned stream entry", "consumer", w.cfg.ConsumerID, "id", e.ID, "error", err)
		w.deadLetter(ctx, e, reasonUndecodable+": "+err.Error())
		return
	}

	if err := w.store.InsertTransaction(ctx, tx); err != nil {
		// Left unacknowledged: the next pending read redelivers it.
		metrics.EntriesFailed.WithLabelValues(w.cfg.ConsumerID).Inc()
		slog.Warn("[WK:StreamConsumer:Process:02] - Failed to persist transaction", "consumer", w.cfg.ConsumerID, "id", e.ID, "psp_reference", tx.PspReference, "error", err)
		return
	}

	if err := w.stream.Ack(ctx, e.ID); err != nil {
		slog.Warn("[WK:StreamConsumer:Process:03] - Failed to acknowledge entry", "consumer", w.cfg.ConsumerID, "id", e.ID, "error", err)
		return
	}
	metrics.EntriesProcessed.WithLabelValues(w.cfg.ConsumerID).Inc()
	slog.Debug("[WK:StreamConsumer:Process:04] - Entry processed", "consumer", w.cfg.ConsumerID, "id", e.ID, "psp_reference", tx.PspReference)
}

// deadLetter copies e aside and acknowledges it. If the copy fails the entry
// stays pending and is tried again on a later cycle.
func (w *streamConsumerWorker) deadLetter(ctx context.Context, e core.StreamEntry, reason string) {
	if err := w.stream.DeadLetter(ctx, e, reason); err != nil {
		slog.Error("[WK:StreamConsumer:DeadLetter:01] - Failed to dead-letter entry", "consumer", w.cfg.ConsumerID, "id", e.ID, "error", err)
		return
	}
	if err := w.stream.Ack(ctx, e.ID); err != nil {
		slog.Warn("[WK:StreamConsumer:DeadLetter:02] - Failed to acknowledge dead-lettered entry", "consumer", w.cfg.ConsumerID, "id", e.ID, "error", err)
		return
	}
	label := reason
	if label != reasonMaxDeliveries {
		label = reasonUndecodable
	}
	metrics.EntriesDeadLettered.WithLabelValues(label).Inc()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
