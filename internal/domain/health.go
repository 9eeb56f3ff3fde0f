package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusCritical = "Critical"
	StatusWarning  = "Warning"
	StatusModerate = "Moderate"
	StatusHealthy  = "Healthy"

	MaxComponentScore = 25
)

// HealthScore is the dashboard payload: success-rate summary plus heat index.
type HealthScore struct {
	StartDate   time.Time   `json:"startDate" msgpack:"startDate"`
	EndDate     time.Time   `json:"endDate" msgpack:"endDate"`
	LocationID  string      `json:"locationId,omitempty" msgpack:"locationId"`
	SuccessRate SuccessRate `json:"paymentSuccessRate" msgpack:"paymentSuccessRate"`
	HeatIndex   HeatIndex   `json:"paymentHealthHeatIndex" msgpack:"paymentHealthHeatIndex"`
	GeneratedAt time.Time   `json:"generatedAt" msgpack:"generatedAt"`
}

type HeatIndex struct {
	TotalScore           int               `json:"totalScore" msgpack:"totalScore"`
	UnusualFailuresScore int               `json:"unusualFailuresScore" msgpack:"unusualFailuresScore"`
	SettlementDelayScore int               `json:"settlementDelayScore" msgpack:"settlementDelayScore"`
	HighRiskCardScore    int               `json:"highRiskCardScore" msgpack:"highRiskCardScore"`
	RefundSpikeScore     int               `json:"refundSpikeScore" msgpack:"refundSpikeScore"`
	HealthStatus         string            `json:"healthStatus" msgpack:"healthStatus"`
	Components           []HealthComponent `json:"components" msgpack:"components"`
}

type HealthComponent struct {
	Name     string `json:"name" msgpack:"name"`
	Score    int    `json:"score" msgpack:"score"`
	MaxScore int    `json:"maxScore" msgpack:"maxScore"`
}

type SuccessRate struct {
	DailySuccessRate   float64         `json:"dailySuccessRate" msgpack:"dailySuccessRate"`
	WeeklySuccessRate  float64         `json:"weeklySuccessRate" msgpack:"weeklySuccessRate"`
	NetSales           decimal.Decimal `json:"netSales" msgpack:"netSales"`
	AvgTicket          decimal.Decimal `json:"avgTicket" msgpack:"avgTicket"`
	ApprovedCount      int64           `json:"approvedCount" msgpack:"approvedCount"`
	DeclinedCount      int64           `json:"declinedCount" msgpack:"declinedCount"`
	TotalTransactions  int64           `json:"totalTransactions" msgpack:"totalTransactions"`
	HourlyTrends       []HourlyTrend   `json:"hourlyTrends" msgpack:"hourlyTrends"`
	FunnelMetrics      FunnelMetrics   `json:"funnelMetrics" msgpack:"funnelMetrics"`
	PaymentMethodRates []BreakdownRate `json:"paymentMethodRates" msgpack:"paymentMethodRates"`
	LocationRates      []BreakdownRate `json:"locationRates" msgpack:"locationRates"`
	TerminalRates      []BreakdownRate `json:"terminalRates" msgpack:"terminalRates"`
	StatusCounts       []StatusCount   `json:"statusCounts" msgpack:"statusCounts"`
}

// BreakdownRate is one group of a payment-method, location or terminal breakdown.
type BreakdownRate struct {
	Key               string  `json:"key" msgpack:"key"`
	SuccessRate       float64 `json:"successRate" msgpack:"successRate"`
	TotalTransactions int64   `json:"totalTransactions" msgpack:"totalTransactions"`
	SuccessCount      int64   `json:"successCount" msgpack:"successCount"`
	FailureCount      int64   `json:"failureCount" msgpack:"failureCount"`
}

type HourlyTrend struct {
	Hour              int     `json:"hour" msgpack:"hour"`
	SuccessRate       float64 `json:"successRate" msgpack:"successRate"`
	TotalTransactions int64   `json:"totalTransactions" msgpack:"totalTransactions"`
	SuccessCount      int64   `json:"successCount" msgpack:"successCount"`
	FailureCount      int64   `json:"failureCount" msgpack:"failureCount"`
}

type FunnelMetrics struct {
	Initiated              int64 `json:"initiated" msgpack:"initiated"`
	Authorized             int64 `json:"authorized" msgpack:"authorized"`
	Captured               int64 `json:"captured" msgpack:"captured"`
	SubmittedForSettlement int64 `json:"submittedForSettlement" msgpack:"submittedForSettlement"`
	CancelledOrRefunded    int64 `json:"cancelledOrRefunded" msgpack:"cancelledOrRefunded"`
}

type StatusCount struct {
	Status string `json:"status" msgpack:"status"`
	Count  int64  `json:"count" msgpack:"count"`
}

// Summary is the raw aggregate a store returns for AUTHORISATION rows.
type Summary struct {
	Total    int64
	Approved int64
	NetSales decimal.Decimal
}

// GroupCount is a raw success/total aggregate for one group key.
type GroupCount struct {
	Key     string
	Total   int64
	Success int64
}

// Dimension selects the column a breakdown groups by.
type Dimension string

const (
	DimensionPaymentMethod Dimension = "payment_method"
	DimensionLocation      Dimension = "location_id"
	DimensionTerminal      Dimension = "terminal_id"
)

// StatusForScore maps a 0–100 total onto the dashboard label.
func StatusForScore(total int) string {
	switch {
	case total >= 80:
		return StatusCritical
	case total >= 60:
		return StatusWarning
	case total >= 40:
		return StatusModerate
	default:
		return StatusHealthy
	}
}
