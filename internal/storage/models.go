package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Transaction types stored in the transactions.type column.
const (
	TxnCapitalCall  = "capital_call"
	TxnDistribution = "distribution"
	TxnAdjustment   = "adjustment"
)

// Document processing statuses.
const (
	DocProcessing = "processing"
	DocCompleted  = "completed"
	DocFailed     = "failed"
)

type Fund struct {
	ID         string
	Name       string
	Commitment decimal.Decimal
	NAV        decimal.Decimal
	CreatedAt  time.Time
}

type Document struct {
	ID        string
	FundID    string
	Filename  string
	Format    string
	Status    string // "processing", "completed", "failed"
	Progress  int    // 0..100
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Transaction struct {
	ID          string
	FundID      string
	DocumentID  string
	Type        string // "capital_call", "distribution", "adjustment"
	Date        time.Time
	Amount      decimal.Decimal
	Description string

	// Distribution fields.
	DistributionType string
	IsRecallable     bool

	// Adjustment fields.
	AdjustmentType           string
	Category                 string
	IsContributionAdjustment bool

	CreatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
