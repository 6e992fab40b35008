// Package accounting tracks model spend against a daily budget.
package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/helpdesk/internal/logging"
)

// SpendStore persists spend per UTC day (YYYY-MM-DD).
type SpendStore interface {
	Add(ctx context.Context, day string, usd float64) (float64, error)
	Get(ctx context.Context, day string) (float64, error)
}

// Ledger enforces a daily USD budget. Allow only reads; Record is the only
// writer, so a budget check can never consume budget.
type Ledger struct {
	store  SpendStore
	budget float64
	now    func() time.Time
	log    *logging.Logger
}

// NewLedger creates a ledger. A non-positive budget disables the cap but
// spend is still recorded.
func NewLedger(store SpendStore, dailyBudgetUSD float64, log *logging.Logger) *Ledger {
	return &Ledger{store: store, budget: dailyBudgetUSD, now: time.Now, log: log.Sub("accounting")}
}

func (l *Ledger) day() string {
	return l.now().UTC().Format(time.DateOnly)
}

// Allow reports whether today's spend is still under budget.
func (l *Ledger) Allow(ctx context.Context) (bool, error) {
	if l.budget <= 0 {
		return true, nil
	}
	spent, err := l.store.Get(ctx, l.day())
	if err != nil {
		return false, fmt.Errorf("reading spend: %w", err)
	}
	return spent < l.budget, nil
}

// Record adds cost to today's spend.
func (l *Ledger) Record(ctx context.Context, costUSD float64) error {
	if costUSD <= 0 {
		return nil
	}
	total, err := l.store.Add(ctx, l.day(), costUSD)
	if err != nil {
		return fmt.Errorf("recording spend: %w", err)
	}
	if l.budget > 0 && total >= l.budget && total-costUSD < l.budget {
		l.log.Warn().Float64("spent", total).Float64("budget", l.budget).Msg("daily model budget exhausted")
	}
	return nil
}

// Snapshot is today's spend against the budget.
type Snapshot struct {
	Day       string  `json:"day"`
	SpentUSD  float64 `json:"spentUsd"`
	BudgetUSD float64 `json:"budgetUsd"`
}

// Today returns today's spend.
func (l *Ledger) Today(ctx context.Context) (Snapshot, error) {
	day := l.day()
	spent, err := l.store.Get(ctx, day)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Day: day, SpentUSD: spent, BudgetUSD: l.budget}, nil
}
