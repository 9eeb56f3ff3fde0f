package memory

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

// transactionMemoryRepository keeps every inserted row in process memory and
// answers the aggregate queries by scanning them. It is meant for local runs
// and tests; nothing survives a restart.
type transactionMemoryRepository struct {
	mu   sync.RWMutex
	rows []domain.Transaction
}

var (
	_ core.TransactionStore  = (*transactionMemoryRepository)(nil)
	_ core.TransactionLookup = (*transactionMemoryRepository)(nil)
)

func NewTransactionRepository() *transactionMemoryRepository {
	return &transactionMemoryRepository{}
}

func (r *transactionMemoryRepository) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.rows = append(r.rows, *tx)
	n := len(r.rows)
	r.mu.Unlock()
	slog.Debug("[RP:Memory:Insert:01] - Transaction stored", "psp_reference", tx.PspReference, "event_code", tx.EventCode, "rows", n)
	return nil
}

// Len reports how many rows have been inserted.
func (r *transactionMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// All returns a copy of the stored rows in insertion order.
func (r *transactionMemoryRepository) All() []domain.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Transaction, len(r.rows))
	copy(out, r.rows)
	return out
}

func (r *transactionMemoryRepository) Count(ctx context.Context, f domain.Filter) (int64, error) {
	var n int64
	r.scan(f.Window, func(tx *domain.Transaction) {
		if len(f.EventCodes) > 0 && !contains(f.EventCodes, tx.EventCode) {
			return
		}
		if f.Success != nil && tx.Success != *f.Success {
			return
		}
		n++
	})
	return n, nil
}

func (r *transactionMemoryRepository) AuthorisationSummary(ctx context.Context, w domain.Window) (*domain.Summary, error) {
	s := &domain.Summary{NetSales: decimal.Zero}
	r.scan(w, func(tx *domain.Transaction) {
		if tx.EventCode != domain.EventAuthorisation {
			return
		}
		s.Total++
		if tx.Success {
			s.Approved++
			s.NetSales = s.NetSales.Add(tx.ApprovedAmount)
		}
	})
	return s, nil
}

func (r *transactionMemoryRepository) GroupRates(ctx context.Context, w domain.Window, dim domain.Dimension) ([]domain.GroupCount, error) {
	key := func(tx *domain.Transaction) string {
		switch dim {
		case domain.DimensionPaymentMethod:
			return tx.PaymentMethod
		case domain.DimensionLocation:
			return tx.LocationID
		case domain.DimensionTerminal:
			return tx.TerminalID
		}
		return ""
	}
	groups := r.group(w, key)
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Total != groups[j].Total {
			return groups[i].Total > groups[j].Total
		}
		return groups[i].Key < groups[j].Key
	})
	return groups, nil
}

func (r *transactionMemoryRepository) HourlyRates(ctx context.Context, w domain.Window) ([]domain.GroupCount, error) {
	groups := r.group(w, func(tx *domain.Transaction) string {
		return strconv.Itoa(tx.EventDate.UTC().Hour())
	})
	sort.Slice(groups, func(i, j int) bool {
		hi, _ := strconv.Atoi(groups[i].Key)
		hj, _ := strconv.Atoi(groups[j].Key)
		return hi < hj
	})
	return groups, nil
}

func (r *transactionMemoryRepository) EventCodeCounts(ctx context.Context, w domain.Window) (map[string]int64, error) {
	counts := make(map[string]int64)
	r.scan(w, func(tx *domain.Transaction) {
		counts[tx.EventCode]++
	})
	return counts, nil
}

func (r *transactionMemoryRepository) SettlementDelay(ctx context.Context, w domain.Window, olderThan time.Time) (int64, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	settled := make(map[string]struct{})
	for i := range r.rows {
		switch r.rows[i].EventCode {
		case domain.EventCapture, domain.EventSettlement:
			settled[r.rows[i].PspReference] = struct{}{}
		}
	}

	var total, delayed int64
	for i := range r.rows {
		tx := &r.rows[i]
		if !inWindow(tx, w) || tx.EventCode != domain.EventAuthorisation || !tx.Success {
			continue
		}
		total++
		if !tx.EventDate.Before(olderThan) {
			continue
		}
		if _, ok := settled[tx.PspReference]; !ok {
			delayed++
		}
	}
	return total, delayed, nil
}

func (r *transactionMemoryRepository) CardRisk(ctx context.Context, w domain.Window, minFailures int) (int64, int64, error) {
	failures := make(map[string]int)
	r.scan(w, func(tx *domain.Transaction) {
		if tx.EventCode != domain.EventAuthorisation || tx.MerchantReference == "" {
			return
		}
		if _, ok := failures[tx.MerchantReference]; !ok {
			failures[tx.MerchantReference] = 0
		}
		if !tx.Success {
			failures[tx.MerchantReference]++
		}
	})

	var risky int64
	for _, n := range failures {
		if n >= minFailures {
			risky++
		}
	}
	return int64(len(failures)), risky, nil
}

// group aggregates AUTHORISATION rows in w by key, skipping empty keys.
func (r *transactionMemoryRepository) group(w domain.Window, key func(*domain.Transaction) string) []domain.GroupCount {
	index := make(map[string]int)
	var groups []domain.GroupCount
	r.scan(w, func(tx *domain.Transaction) {
		if tx.EventCode != domain.EventAuthorisation {
			return
		}
		k := key(tx)
		if k == "" {
			return
		}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, domain.GroupCount{Key: k})
		}
		groups[i].Total++
		if tx.Success {
			groups[i].Success++
		}
	})
	return groups
}

func (r *transactionMemoryRepository) scan(w domain.Window, fn func(*domain.Transaction)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.rows {
		if inWindow(&r.rows[i], w) {
			fn(&r.rows[i])
		}
	}
}

// inWindow treats both bounds as inclusive.
func inWindow(tx *domain.Transaction, w domain.Window) bool {
	if tx.EventDate.Before(w.Start) || tx.EventDate.After(w.End) {
		return false
	}
	return w.LocationID == "" || tx.LocationID == w.LocationID
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *transactionMemoryRepository) FindByPspReference(ctx context.Context, psp string) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Transaction
	for i := range r.rows {
		if r.rows[i].PspReference == psp {
			t := r.rows[i]
			out = append(out, &t)
		}
	}
	return out, nil
}
