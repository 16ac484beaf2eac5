package ledger

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// SubscriptionPatch carries the fields of a partial subscription update.
// The billing cursor is not patchable; only billing advances it.
type SubscriptionPatch struct {
	Name        *string
	Amount      *decimal.Decimal
	Category    *domain.Category
	Frequency   *domain.Frequency
	StartDate   *civil.Date
	IsNecessary *bool
	Notes       *string
}

func (p SubscriptionPatch) apply(s *domain.Subscription) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Amount != nil {
		s.Amount = *p.Amount
	}
	if p.Category != nil {
		s.Category = *p.Category
	}
	if p.Frequency != nil {
		s.Frequency = *p.Frequency
	}
	if p.StartDate != nil {
		s.StartDate = *p.StartDate
	}
	if p.IsNecessary != nil {
		s.IsNecessary = *p.IsNecessary
	}
	if p.Notes != nil {
		s.Notes = *p.Notes
	}
}

// CreateSubscription validates and stores s. The billing cursor defaults to
// the start date, so the first bill falls one period after it.
func (l *Ledger) CreateSubscription(ctx context.Context, s domain.Subscription) (domain.Subscription, error) {
	if err := s.Validate(); err != nil {
		return domain.Subscription{}, fmt.Errorf("CreateSubscription: %w", err)
	}
	s.ID = l.newID()
	s.CreatedAt = l.nextTimestamp()
	if s.LastBilledDate == nil {
		start := s.StartDate
		s.LastBilledDate = &start
	}

	err := l.runInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertSubscription(ctx, s)
	})
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("CreateSubscription: %w", err)
	}
	return s, nil
}

// UpdateSubscription applies patch to the subscription with the given id.
func (l *Ledger) UpdateSubscription(ctx context.Context, id string, patch SubscriptionPatch) (domain.Subscription, error) {
	var updated domain.Subscription
	err := l.runInTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		next := *cur
		patch.apply(&next)
		if err := next.Validate(); err != nil {
			return err
		}
		if err := tx.UpdateSubscription(ctx, next); err != nil {
			return fmt.Errorf("updating subscription: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("UpdateSubscription: %w", err)
	}
	return updated, nil
}

// DeleteSubscription removes the subscription. Transactions it already produced stay.
func (l *Ledger) DeleteSubscription(ctx context.Context, id string) error {
	err := l.runInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetSubscription(ctx, id); err != nil {
			return err
		}
		return tx.DeleteSubscription(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("DeleteSubscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns all subscriptions.
func (l *Ledger) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	subs, err := l.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListSubscriptions: %w", err)
	}
	return subs, nil
}

// GetSubscription returns one subscription by id.
func (l *Ledger) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	s, err := l.store.GetSubscription(ctx, id)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("GetSubscription: %w", err)
	}
	return *s, nil
}

// BillingPlan is what a planner decides to materialize in one billing run.
type BillingPlan struct {
	// Transactions are the expenses to emit, without identity.
	Transactions []domain.Transaction
	// Advanced are the subscriptions with their cursors moved forward.
	Advanced []domain.Subscription
}

// BillingOutcome is the committed result of Bill.
type BillingOutcome struct {
	Transactions []domain.Transaction
	Total        decimal.Decimal
	Balance      domain.Balance
}

// Bill hands the current subscriptions to plan and commits its result in one
// unit of work: the emitted transactions, the advanced cursors and a single
// aggregate balance decrement. An empty plan writes nothing.
func (l *Ledger) Bill(ctx context.Context, plan func([]domain.Subscription) (BillingPlan, error)) (BillingOutcome, error) {
	var out BillingOutcome
	out.Total = decimal.Zero
	committed := false

	err := l.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		subs, err := tx.ListSubscriptions(ctx)
		if err != nil {
			return fmt.Errorf("listing subscriptions: %w", err)
		}
		p, err := plan(subs)
		if err != nil {
			return err
		}
		if len(p.Transactions) == 0 && len(p.Advanced) == 0 {
			return nil
		}

		prepared := make([]domain.Transaction, len(p.Transactions))
		for i, t := range p.Transactions {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("billed transaction %d: %w", i, err)
			}
			t.ID = l.newID()
			t.CreatedAt = l.nextTimestamp()
			prepared[i] = t
			out.Total = out.Total.Add(t.Amount)
		}

		if err := tx.InsertTransactions(ctx, prepared); err != nil {
			return fmt.Errorf("inserting billed transactions: %w", err)
		}
		for _, s := range p.Advanced {
			if err := tx.UpdateSubscription(ctx, s); err != nil {
				return fmt.Errorf("advancing subscription %s: %w", s.ID, err)
			}
		}
		out.Balance, err = l.applyDelta(ctx, tx, domain.SumSigned(prepared))
		if err != nil {
			return err
		}
		out.Transactions = prepared
		committed = true
		return nil
	})
	if err != nil {
		return BillingOutcome{}, fmt.Errorf("Bill: %w", err)
	}

	if committed {
		for _, hook := range l.hooks {
			hook(ctx)
		}
	} else {
		out.Balance, err = l.GetBalance(ctx)
		if err != nil {
			return BillingOutcome{}, fmt.Errorf("Bill: %w", err)
		}
	}
	return out, nil
}
