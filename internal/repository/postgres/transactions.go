package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

type transactionRepository struct {
	db *gorm.DB
}

var (
	_ core.TransactionStore  = (*transactionRepository)(nil)
	_ core.TransactionLookup = (*transactionRepository)(nil)
)

func NewTransactionRepository(db *gorm.DB) *transactionRepository {
	return &transactionRepository{db: db}
}

// InsertTransaction appends one row. Redelivered events become extra rows.
func (r *transactionRepository) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	row := toTransactionModel(tx)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		slog.Error("[RP:Postgres:Insert:01] - Failed to insert transaction", "psp_reference", tx.PspReference, "event_code", tx.EventCode, "error", err)
		return fmt.Errorf("insert transaction %s: %w", tx.PspReference, err)
	}
	return nil
}

// FindByPspReference returns every row stored for a reference, oldest first.
func (r *transactionRepository) FindByPspReference(ctx context.Context, psp string) ([]*domain.Transaction, error) {
	var rows []transactionModel
	if err := r.db.WithContext(ctx).Where("psp_reference = ?", psp).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (r *transactionRepository) Count(ctx context.Context, f domain.Filter) (int64, error) {
	var n int64
	err := r.countQuery(ctx, f).Count(&n).Error
	return n, err
}

func (r *transactionRepository) countQuery(ctx context.Context, f domain.Filter) *gorm.DB {
	q := r.windowed(ctx, f.Window)
	if len(f.EventCodes) > 0 {
		q = q.Where("event_code IN ?", f.EventCodes)
	}
	if f.Success != nil {
		q = q.Where("success = ?", *f.Success)
	}
	return q
}

func (r *transactionRepository) AuthorisationSummary(ctx context.Context, w domain.Window) (*domain.Summary, error) {
	var row struct {
		Total    int64
		Approved int64
		NetSales decimal.Decimal
	}
	err := r.windowed(ctx, w).
		Select("COUNT(*) AS total, COUNT(*) FILTER (WHERE success) AS approved, COALESCE(SUM(approved_amount) FILTER (WHERE success), 0) AS net_sales").
		Where("event_code = ?", domain.EventAuthorisation).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("authorisation summary: %w", err)
	}
	return &domain.Summary{Total: row.Total, Approved: row.Approved, NetSales: row.NetSales}, nil
}

type groupRow struct {
	GroupKey string
	Total    int64
	Success  int64
}

func (r *transactionRepository) GroupRates(ctx context.Context, w domain.Window, dim domain.Dimension) ([]domain.GroupCount, error) {
	col, err := dimensionColumn(dim)
	if err != nil {
		return nil, err
	}
	var rows []groupRow
	err = r.windowed(ctx, w).
		Select(col+" AS group_key, COUNT(*) AS total, COUNT(*) FILTER (WHERE success) AS success").
		Where("event_code = ?", domain.EventAuthorisation).
		Where(col + " IS NOT NULL AND " + col + " <> ''").
		Group(col).
		Order("total DESC, group_key ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("group rates by %s: %w", col, err)
	}
	out := make([]domain.GroupCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.GroupCount{Key: row.GroupKey, Total: row.Total, Success: row.Success})
	}
	return out, nil
}

func (r *transactionRepository) HourlyRates(ctx context.Context, w domain.Window) ([]domain.GroupCount, error) {
	var rows []struct {
		Hour    int
		Total   int64
		Success int64
	}
	err := r.windowed(ctx, w).
		Select("EXTRACT(HOUR FROM event_date AT TIME ZONE 'UTC')::int AS hour, COUNT(*) AS total, COUNT(*) FILTER (WHERE success) AS success").
		Where("event_code = ?", domain.EventAuthorisation).
		Group("1").
		Order("1").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("hourly rates: %w", err)
	}
	out := make([]domain.GroupCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.GroupCount{Key: strconv.Itoa(row.Hour), Total: row.Total, Success: row.Success})
	}
	return out, nil
}

func (r *transactionRepository) EventCodeCounts(ctx context.Context, w domain.Window) (map[string]int64, error) {
	var rows []struct {
		EventCode string
		Total     int64
	}
	err := r.windowed(ctx, w).
		Select("event_code, COUNT(*) AS total").
		Group("event_code").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("event code counts: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.EventCode] = row.Total
	}
	return counts, nil
}

func (r *transactionRepository) SettlementDelay(ctx context.Context, w domain.Window, olderThan time.Time) (int64, int64, error) {
	var row struct {
		Total   int64
		Delayed int64
	}
	err := r.windowed(ctx, w).
		Table("adyen_transactions AS t").
		Select(`COUNT(*) AS total,
			COUNT(*) FILTER (WHERE t.event_date < ? AND NOT EXISTS (
				SELECT 1 FROM adyen_transactions s
				WHERE s.psp_reference = t.psp_reference AND s.event_code IN ?
			)) AS delayed`, olderThan.UTC(), []string{domain.EventCapture, domain.EventSettlement}).
		Where("t.event_code = ? AND t.success", domain.EventAuthorisation).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("settlement delay: %w", err)
	}
	return row.Total, row.Delayed, nil
}

func (r *transactionRepository) CardRisk(ctx context.Context, w domain.Window, minFailures int) (int64, int64, error) {
	perCard := r.windowed(ctx, w).
		Select("merchant_reference, COUNT(*) FILTER (WHERE NOT success) AS failures").
		Where("event_code = ?", domain.EventAuthorisation).
		Where("merchant_reference IS NOT NULL AND merchant_reference <> ''").
		Group("merchant_reference")

	var row struct {
		Cards int64
		Risky int64
	}
	err := r.db.WithContext(ctx).
		Table("(?) AS cards", perCard).
		Select("COUNT(*) AS cards, COUNT(*) FILTER (WHERE failures >= ?) AS risky", minFailures).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("card risk: %w", err)
	}
	return row.Cards, row.Risky, nil
}

// windowed scopes a query to the inclusive window and optional location.
func (r *transactionRepository) windowed(ctx context.Context, w domain.Window) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&transactionModel{}).
		Where("event_date >= ? AND event_date <= ?", w.Start.UTC(), w.End.UTC())
	if w.LocationID != "" {
		q = q.Where("location_id = ?", w.LocationID)
	}
	return q
}

func dimensionColumn(dim domain.Dimension) (string, error) {
	switch dim {
	case domain.DimensionPaymentMethod, domain.DimensionLocation, domain.DimensionTerminal:
		return string(dim), nil
	}
	return "", fmt.Errorf("unknown dimension %q", dim)
}
