package service

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
	"github.com/nicolasmmb/go-payment-health/internal/metrics"
)

const (
	ComponentUnusualFailures = "Unusual Failures"
	ComponentSettlementDelay = "Settlement Delays"
	ComponentHighRiskCards   = "High-Risk Cards"
	ComponentRefundSpike     = "Refund Spikes"

	highRiskMinFailures = 3
	settlementGrace     = 24 * time.Hour
)

type threshold struct {
	min   float64
	score int
}

var (
	unusualFailureThresholds = []threshold{{100, 25}, {75, 20}, {50, 15}, {25, 10}, {10, 5}}
	refundSpikeThresholds    = []threshold{{100, 25}, {75, 20}, {50, 15}, {30, 10}, {20, 5}}
	settlementThresholds     = []threshold{{0.20, 25}, {0.15, 20}, {0.10, 15}, {0.05, 10}, {0.02, 5}}
	highRiskCardThresholds   = []threshold{{0.15, 25}, {0.12, 20}, {0.09, 15}, {0.06, 10}, {0.03, 5}}
)

// ScoringService computes the success-rate summary and heat index for a
// window. Every store query is independent and runs concurrently.
type ScoringService struct {
	store core.TransactionStore
	now   func() time.Time
}

func NewScoringService(store core.TransactionStore) *ScoringService {
	return &ScoringService{store: store, now: time.Now}
}

// Compute returns a full HealthScore, or an error if any query failed. A
// partial score is never returned.
func (s *ScoringService) Compute(ctx context.Context, w domain.Window) (*domain.HealthScore, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	now := s.now().UTC()

	var (
		summary, weekly           *domain.Summary
		byMethod, byLoc, byTerm   []domain.GroupCount
		hourly                    []domain.GroupCount
		codes, allCodes           map[string]int64
		failedNow, failedBase     int64
		refundsNow, refundsBase   int64
		authTotal, authDelayed    int64
		cardsTotal, cardsHighRisk int64
	)

	failed := domain.Filter{EventCodes: []string{domain.EventAuthorisation}, Success: domain.Bool(false)}
	refunds := domain.Filter{EventCodes: []string{domain.EventRefund, domain.EventChargeback}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { summary, err = s.store.AuthorisationSummary(gctx, w); return })
	g.Go(func() (err error) { weekly, err = s.store.AuthorisationSummary(gctx, w.TrailingWeek()); return })
	g.Go(func() (err error) {
		byMethod, err = s.store.GroupRates(gctx, w, domain.DimensionPaymentMethod)
		return
	})
	if w.LocationID == "" {
		g.Go(func() (err error) { byLoc, err = s.store.GroupRates(gctx, w, domain.DimensionLocation); return })
	}
	g.Go(func() (err error) { byTerm, err = s.store.GroupRates(gctx, w, domain.DimensionTerminal); return })
	g.Go(func() (err error) { hourly, err = s.store.HourlyRates(gctx, w); return })
	g.Go(func() (err error) { codes, err = s.store.EventCodeCounts(gctx, w); return })
	g.Go(func() (err error) { allCodes, err = s.store.EventCodeCounts(gctx, w.Unfiltered()); return })

	g.Go(func() (err error) { failedNow, err = s.count(gctx, failed, w); return })
	g.Go(func() (err error) { failedBase, err = s.count(gctx, failed, w.Baseline()); return })
	g.Go(func() (err error) { refundsNow, err = s.count(gctx, refunds, w); return })
	g.Go(func() (err error) { refundsBase, err = s.count(gctx, refunds, w.Baseline()); return })
	g.Go(func() (err error) {
		authTotal, authDelayed, err = s.store.SettlementDelay(gctx, w, now.Add(-settlementGrace))
		return
	})
	g.Go(func() (err error) {
		cardsTotal, cardsHighRisk, err = s.store.CardRisk(gctx, w, highRiskMinFailures)
		return
	})

	if err := g.Wait(); err != nil {
		slog.Error("[SV:Scoring:Compute:01] - Score query failed", "start", w.Start, "end", w.End, "location", w.LocationID, "error", err)
		return nil, err
	}

	heat := BuildHeatIndex(
		UnusualFailuresScore(failedBase, failedNow),
		SettlementDelayScore(authTotal, authDelayed),
		HighRiskCardScore(cardsTotal, cardsHighRisk),
		RefundSpikeScore(refundsBase, refundsNow),
	)

	rate := domain.SuccessRate{
		DailySuccessRate:   SuccessRatePercent(summary.Approved, summary.Total),
		WeeklySuccessRate:  SuccessRatePercent(weekly.Approved, weekly.Total),
		NetSales:           summary.NetSales,
		AvgTicket:          AverageTicket(summary.NetSales, summary.Approved),
		ApprovedCount:      summary.Approved,
		DeclinedCount:      summary.Total - summary.Approved,
		TotalTransactions:  summary.Total,
		HourlyTrends:       hourlyTrends(hourly),
		FunnelMetrics:      funnel(codes, allCodes),
		PaymentMethodRates: breakdown(byMethod),
		LocationRates:      breakdown(byLoc),
		TerminalRates:      breakdown(byTerm),
		StatusCounts:       statusCounts(codes),
	}

	elapsed := time.Since(started)
	metrics.ScoringDuration.Observe(float64(elapsed.Milliseconds()))
	slog.Debug("[SV:Scoring:Compute:02] - Score computed", "total", heat.TotalScore, "status", heat.HealthStatus, "duration", elapsed)

	return &domain.HealthScore{
		StartDate:   w.Start,
		EndDate:     w.End,
		LocationID:  w.LocationID,
		SuccessRate: rate,
		HeatIndex:   heat,
		GeneratedAt: now,
	}, nil
}

func (s *ScoringService) count(ctx context.Context, f domain.Filter, w domain.Window) (int64, error) {
	f.Window = w
	return s.store.Count(ctx, f)
}

// BuildHeatIndex sums the four sub-scores and labels the total.
func BuildHeatIndex(unusualFailures, settlementDelay, highRiskCards, refundSpike int) domain.HeatIndex {
	total := unusualFailures + settlementDelay + highRiskCards + refundSpike
	return domain.HeatIndex{
		TotalScore:           total,
		UnusualFailuresScore: unusualFailures,
		SettlementDelayScore: settlementDelay,
		HighRiskCardScore:    highRiskCards,
		RefundSpikeScore:     refundSpike,
		HealthStatus:         domain.StatusForScore(total),
		Components: []domain.HealthComponent{
			{Name: ComponentUnusualFailures, Score: unusualFailures, MaxScore: domain.MaxComponentScore},
			{Name: ComponentSettlementDelay, Score: settlementDelay, MaxScore: domain.MaxComponentScore},
			{Name: ComponentHighRiskCards, Score: highRiskCards, MaxScore: domain.MaxComponentScore},
			{Name: ComponentRefundSpike, Score: refundSpike, MaxScore: domain.MaxComponentScore},
		},
	}
}

func UnusualFailuresScore(baseline, current int64) int {
	return spikeScore(baseline, current, unusualFailureThresholds)
}

func RefundSpikeScore(baseline, current int64) int {
	return spikeScore(baseline, current, refundSpikeThresholds)
}

func SettlementDelayScore(total, delayed int64) int {
	return rateScore(total, delayed, settlementThresholds)
}

func HighRiskCardScore(cards, risky int64) int {
	return rateScore(cards, risky, highRiskCardThresholds)
}

// SpikePercent is the growth of current over baseline. ok is false when the
// baseline is zero and the percentage is undefined.
func SpikePercent(baseline, current int64) (pct float64, ok bool) {
	if baseline <= 0 {
		return 0, false
	}
	return float64(current-baseline) / float64(baseline) * 100, true
}

func spikeScore(baseline, current int64, table []threshold) int {
	pct, ok := SpikePercent(baseline, current)
	if !ok {
		if current > 0 {
			return domain.MaxComponentScore
		}
		return 0
	}
	return lookup(pct, table)
}

func rateScore(total, part int64, table []threshold) int {
	if total <= 0 {
		return 0
	}
	return lookup(float64(part)/float64(total), table)
}

// lookup expects table sorted by descending min.
func lookup(v float64, table []threshold) int {
	for _, t := range table {
		if v >= t.min {
			return t.score
		}
	}
	return 0
}

// SuccessRatePercent is success/total*100 rounded to two decimals, 0 for an
// empty total.
func SuccessRatePercent(success, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round2(float64(success) / float64(total) * 100)
}

func AverageTicket(netSales decimal.Decimal, approved int64) decimal.Decimal {
	if approved <= 0 {
		return decimal.Zero
	}
	return netSales.Div(decimal.NewFromInt(approved)).Round(2)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func breakdown(groups []domain.GroupCount) []domain.BreakdownRate {
	out := make([]domain.BreakdownRate, 0, len(groups))
	for _, g := range groups {
		out = append(out, domain.BreakdownRate{
			Key:               g.Key,
			SuccessRate:       SuccessRatePercent(g.Success, g.Total),
			TotalTransactions: g.Total,
			SuccessCount:      g.Success,
			FailureCount:      g.Total - g.Success,
		})
	}
	return out
}

func hourlyTrends(groups []domain.GroupCount) []domain.HourlyTrend {
	out := make([]domain.HourlyTrend, 0, len(groups))
	for _, g := range groups {
		hour, err := strconv.Atoi(g.Key)
		if err != nil || hour < 0 || hour > 23 {
			continue
		}
		out = append(out, domain.HourlyTrend{
			Hour:              hour,
			SuccessRate:       SuccessRatePercent(g.Success, g.Total),
			TotalTransactions: g.Total,
			SuccessCount:      g.Success,
			FailureCount:      g.Total - g.Success,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out
}

// funnel maps event codes to buckets. Initiated ignores the location filter.
func funnel(codes, allCodes map[string]int64) domain.FunnelMetrics {
	var initiated int64
	for _, n := range allCodes {
		initiated += n
	}
	return domain.FunnelMetrics{
		Initiated:              initiated,
		Authorized:             codes[domain.EventAuthorisation],
		Captured:               codes[domain.EventCapture],
		SubmittedForSettlement: codes[domain.EventSettlement] + codes[domain.EventSentForSettle],
		CancelledOrRefunded:    codes[domain.EventRefund] + codes[domain.EventChargeback] + codes[domain.EventCancellation],
	}
}

func statusCounts(codes map[string]int64) []domain.StatusCount {
	out := make([]domain.StatusCount, 0, len(codes))
	for code, n := range codes {
		out = append(out, domain.StatusCount{Status: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Status < out[j].Status
	})
	return out
}
