package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERSISTENCE MODELS
// ═══════════════════════════════════════════════════════════════════════════════

// Order-log event types. The sequence for one order is monotone:
// generated → (submitted → (placed | failed)) | dry_run.
const (
	OrderEventGenerated = "generated"
	OrderEventDryRun    = "dry_run"
	OrderEventSubmitted = "submitted"
	OrderEventPlaced    = "placed"
	OrderEventFilled    = "filled"
	OrderEventRejected  = "rejected"
	OrderEventFailed    = "failed"
)

// Backtest and optimization job states.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// OrderLog is one append-only audit record in an order's life cycle.
type OrderLog struct {
	ID             uint    `gorm:"primaryKey"`
	SubscriptionID *string `gorm:"index"` // nullable for test orders
	Symbol         string  `gorm:"index"`
	Exchange       string
	OrderType      string
	Side           string
	Quantity       int64
	Price          decimal.Decimal `gorm:"type:decimal(20,8)"`
	TriggerPrice   decimal.Decimal `gorm:"type:decimal(20,8)"`
	EventType      string          `gorm:"index"`
	IsDryRun       bool
	IsTestOrder    bool
	Success        bool
	BrokerOrderID  string
	BrokerName     string
	Request        string `gorm:"type:text"` // opaque JSON blob
	Response       string `gorm:"type:text"` // opaque JSON blob
	ErrorMessage   string
	StrategyName   string
	Reason         string
	MarketPrice    decimal.Decimal `gorm:"type:decimal(20,8)"`
	CreatedAt      time.Time       `gorm:"index"`
}

// BacktestJob is the job row for one historical simulation.
type BacktestJob struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"index"`
	StrategyID     string
	Symbol         string
	Exchange       string
	Interval       string
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital decimal.Decimal `gorm:"type:decimal(20,8)"`
	Config         string          `gorm:"type:text"` // strategy parameters, JSON
	Status         string          `gorm:"index"`
	Progress       int
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BacktestResult is the single metrics row for a completed job.
type BacktestResult struct {
	ID               uint            `gorm:"primaryKey"`
	JobID            string          `gorm:"uniqueIndex"`
	FinalEquity      decimal.Decimal `gorm:"type:decimal(20,8)"`
	TotalReturn      decimal.Decimal `gorm:"type:decimal(20,8)"`
	TotalReturnPct   float64
	CAGR             float64
	SharpeRatio      float64
	SortinoRatio     float64
	MaxDrawdownPct   float64
	MeanDrawdownPct  float64
	CalmarRatio      float64
	WinRatePct       float64
	ProfitFactor     float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	AvgTradeDuration int64 // seconds
	CreatedAt        time.Time
}

// BacktestTrade is one completed (or force-closed) trade of a job.
type BacktestTrade struct {
	ID         uint   `gorm:"primaryKey"`
	JobID      string `gorm:"index"`
	Symbol     string
	Quantity   int64
	EntryPrice decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExitPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        decimal.Decimal `gorm:"type:decimal(20,8)"`
	PnLPct     float64
	IsOpen     bool
}

// EquityPoint is one downsampled point of a job's equity curve.
type EquityPoint struct {
	ID          uint   `gorm:"primaryKey"`
	JobID       string `gorm:"index"`
	Timestamp   time.Time
	Equity      decimal.Decimal `gorm:"type:decimal(20,8)"`
	DrawdownPct float64
}

// OptimizationJob extends the backtest job shape with sweep parameters.
type OptimizationJob struct {
	ID               string `gorm:"primaryKey"`
	UserID           string `gorm:"index"`
	StrategyID       string
	Symbol           string
	Exchange         string
	Interval         string
	StartDate        time.Time
	EndDate          time.Time
	InitialCapital   decimal.Decimal `gorm:"type:decimal(20,8)"`
	NumSamples       int
	ParamRanges      string `gorm:"type:text"` // name -> {min,max,step}, JSON
	Objective        string
	CompletedSamples int
	Status           string `gorm:"index"`
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OptimizationSample is one evaluated parameter tuple.
type OptimizationSample struct {
	ID           uint   `gorm:"primaryKey"`
	JobID        string `gorm:"index"`
	Params       string `gorm:"type:text"` // parameter tuple, JSON
	Metrics      string `gorm:"type:text"` // full metrics snapshot, JSON
	Objective    float64
	IsBest       bool
	ErrorMessage string
	CreatedAt    time.Time
}
