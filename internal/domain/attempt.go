package domain

import (
	"context"
	"time"
)

// AttemptOutcome is the terminal state of one execution attempt.
type AttemptOutcome string

const (
	AttemptExecuted AttemptOutcome = "executed"
	AttemptReverted AttemptOutcome = "reverted"
	AttemptFailed   AttemptOutcome = "failed"
	AttemptDryRun   AttemptOutcome = "dry_run"
)

// AttemptRecord is the structured trace of one execution attempt. Records
// are written once and never read back for decisions.
type AttemptRecord struct {
	ID           string
	Path         string
	Kind         OpportunityKind
	Provider     FlashloanProvider
	NotionalUSD  float64
	GasCostUSD   float64
	NetProfitUSD float64
	Outcome      AttemptOutcome
	TxHash       string
	Error        string
	AttemptedAt  time.Time
}

// AttemptStore is the insert-only persistence boundary.
type AttemptStore interface {
	Insert(ctx context.Context, rec AttemptRecord) error
}
