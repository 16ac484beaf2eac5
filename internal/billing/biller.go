package billing

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/shopspring/decimal"
)

// Result summarizes one billing run.
type Result struct {
	Count   int             `json:"count"`
	Amount  decimal.Decimal `json:"amount"`
	Balance domain.Balance  `json:"-"`
}

// Biller materializes due subscriptions into expense transactions.
type Biller struct {
	ledger *ledger.Ledger
	now    func() time.Time
}

// Option configures a Biller.
type Option func(*Biller)

// WithClock overrides the source of "today".
func WithClock(now func() time.Time) Option {
	return func(b *Biller) { b.now = now }
}

// New creates a Biller that writes through l.
func New(l *ledger.Ledger, opts ...Option) *Biller {
	b := &Biller{ledger: l, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NextBillDate returns the cursor advanced by one period. The day of month
// follows the start date, clamped to the end of shorter months, so a
// subscription started on Jan 31 bills on Feb 29, Mar 31, Apr 30 in 2024.
func NextBillDate(s domain.Subscription) civil.Date {
	months := 1
	if s.Frequency == domain.FrequencyYearly {
		months = 12
	}
	return domain.AddMonthsClamped(s.Cursor(), months, s.StartDate.Day)
}

// Plan decides which subscriptions are due on today. Each due subscription
// yields one expense dated on its next bill date and has its cursor moved to
// that date. A subscription several periods behind is billed one period per run.
func Plan(subs []domain.Subscription, today civil.Date) ledger.BillingPlan {
	var plan ledger.BillingPlan
	for _, s := range subs {
		next := NextBillDate(s)
		if next.After(today) {
			continue
		}
		plan.Transactions = append(plan.Transactions, domain.Transaction{
			Type:        domain.TypeExpense,
			Amount:      s.Amount,
			Name:        s.Name,
			Category:    s.Category,
			Date:        next,
			IsNecessary: s.IsNecessary,
			Notes:       "Recurring payment for " + s.Name,
		})
		s.LastBilledDate = &next
		plan.Advanced = append(plan.Advanced, s)
	}
	return plan
}

// Run bills every subscription that is due today in one atomic unit. When
// nothing is due it writes nothing and returns a zero result.
func (b *Biller) Run(ctx context.Context) (Result, error) {
	log := logger.FromContext(ctx)
	today := civil.DateOf(b.now())

	out, err := b.ledger.Bill(ctx, func(subs []domain.Subscription) (ledger.BillingPlan, error) {
		return Plan(subs, today), nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("Biller.Run: %w", err)
	}

	res := Result{Count: len(out.Transactions), Amount: out.Total, Balance: out.Balance}
	if res.Count > 0 {
		log.Info().
			Str("today", today.String()).
			Int("count", res.Count).
			Str("amount", res.Amount.StringFixed(2)).
			Msg("Subscriptions billed")
	}
	return res, nil
}

// Schedule runs the biller immediately and then on every tick of interval
// until ctx is cancelled. Failures are logged and retried on the next tick.
// It returns at once when interval is not positive.
func (b *Biller) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := b.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled billing failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
