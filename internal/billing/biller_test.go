package billing_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/billing"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/ledger/inmemory"
	"github.com/shopspring/decimal"
)

func date(y int, m time.Month, d int) civil.Date { return civil.Date{Year: y, Month: m, Day: d} }

func at(d civil.Date) func() time.Time {
	return func() time.Time { return d.In(time.UTC).Add(12 * time.Hour) }
}

func subscription(name string, freq domain.Frequency, start civil.Date) domain.Subscription {
	return domain.Subscription{
		Name:        name,
		Amount:      decimal.RequireFromString("15.99"),
		Category:    domain.CategoryEntertainment,
		Frequency:   freq,
		StartDate:   start,
		IsNecessary: false,
	}
}

func TestNextBillDate_MonthEnd(t *testing.T) {
	start := date(2024, time.January, 31)
	sub := subscription("Streaming", domain.FrequencyMonthly, start)

	want := []civil.Date{
		date(2024, time.February, 29),
		date(2024, time.March, 31),
		date(2024, time.April, 30),
		date(2024, time.May, 31),
	}
	for i, w := range want {
		got := billing.NextBillDate(sub)
		if got != w {
			t.Fatalf("step %d: NextBillDate() = %s, want %s", i, got, w)
		}
		sub.LastBilledDate = &got
	}
}

func TestNextBillDate(t *testing.T) {
	tests := []struct {
		name   string
		freq   domain.Frequency
		start  civil.Date
		cursor *civil.Date
		want   civil.Date
	}{
		{"monthly from start", domain.FrequencyMonthly, date(2024, time.January, 15), nil, date(2024, time.February, 15)},
		{"monthly across year", domain.FrequencyMonthly, date(2023, time.December, 10), nil, date(2024, time.January, 10)},
		{"yearly leap day", domain.FrequencyYearly, date(2024, time.February, 29), nil, date(2025, time.February, 28)},
		{"yearly back to leap", domain.FrequencyYearly, date(2024, time.February, 29), ptr(date(2027, time.February, 28)), date(2028, time.February, 29)},
		{"cursor wins over start", domain.FrequencyMonthly, date(2024, time.January, 5), ptr(date(2024, time.June, 5)), date(2024, time.July, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := subscription("x", tt.freq, tt.start)
			sub.LastBilledDate = tt.cursor
			if got := billing.NextBillDate(sub); got != tt.want {
				t.Errorf("NextBillDate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func ptr(d civil.Date) *civil.Date { return &d }

func TestRun_BillsDueSubscriptionOnce(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(inmemory.NewStore())

	if _, err := l.SetBalance(ctx, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("SetBalance() error: %v", err)
	}
	sub, err := l.CreateSubscription(ctx, subscription("Streaming", domain.FrequencyMonthly, date(2024, time.January, 31)))
	if err != nil {
		t.Fatalf("CreateSubscription() error: %v", err)
	}

	biller := billing.New(l, billing.WithClock(at(date(2024, time.March, 1))))

	res, err := biller.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Count != 1 || !res.Amount.Equal(decimal.RequireFromString("15.99")) {
		t.Fatalf("Run() = %+v, want count 1 amount 15.99", res)
	}
	if !res.Balance.Current.Equal(decimal.RequireFromString("84.01")) {
		t.Errorf("balance = %s, want 84.01", res.Balance.Current)
	}

	txs, err := l.ListTransactions(ctx, ledger.ListOptions{})
	if err != nil {
		t.Fatalf("ListTransactions() error: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txs))
	}
	got := txs[0]
	if got.Date != date(2024, time.February, 29) || got.Type != domain.TypeExpense || got.Category != domain.CategoryEntertainment {
		t.Errorf("billed transaction = %+v", got)
	}
	if got.Notes != "Recurring payment for Streaming" {
		t.Errorf("Notes = %q", got.Notes)
	}

	updated, err := l.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription() error: %v", err)
	}
	if updated.LastBilledDate == nil || *updated.LastBilledDate != date(2024, time.February, 29) {
		t.Errorf("LastBilledDate = %v, want 2024-02-29", updated.LastBilledDate)
	}

	again, err := biller.Run(ctx)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if again.Count != 0 || !again.Amount.IsZero() {
		t.Errorf("second Run() = %+v, want zero", again)
	}
	if !again.Balance.Current.Equal(decimal.RequireFromString("84.01")) {
		t.Errorf("balance after second run = %s, want 84.01", again.Balance.Current)
	}
}

func TestRun_OnePeriodPerTrigger(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(inmemory.NewStore())

	if _, err := l.CreateSubscription(ctx, subscription("Gym", domain.FrequencyMonthly, date(2024, time.January, 31))); err != nil {
		t.Fatalf("CreateSubscription() error: %v", err)
	}

	biller := billing.New(l, billing.WithClock(at(date(2024, time.May, 15))))

	wantDates := []civil.Date{
		date(2024, time.February, 29),
		date(2024, time.March, 31),
		date(2024, time.April, 30),
	}
	for i := range wantDates {
		res, err := biller.Run(ctx)
		if err != nil {
			t.Fatalf("Run() %d error: %v", i, err)
		}
		if res.Count != 1 {
			t.Fatalf("Run() %d count = %d, want 1", i, res.Count)
		}
	}
	if res, _ := biller.Run(ctx); res.Count != 0 {
		t.Errorf("catch-up run count = %d, want 0", res.Count)
	}

	txs, err := l.ListTransactions(ctx, ledger.ListOptions{Sort: ledger.Sort{Field: ledger.SortDate}})
	if err != nil {
		t.Fatalf("ListTransactions() error: %v", err)
	}
	if len(txs) != len(wantDates) {
		t.Fatalf("got %d transactions, want %d", len(txs), len(wantDates))
	}
	for i, w := range wantDates {
		if txs[i].Date != w {
			t.Errorf("transaction %d date = %s, want %s", i, txs[i].Date, w)
		}
	}
}

func TestRun_NothingDueWritesNothing(t *testing.T) {
	ctx := context.Background()
	commits := 0
	l := ledger.New(inmemory.NewStore(), ledger.WithCommitHook(func(context.Context) { commits++ }))

	if _, err := l.CreateSubscription(ctx, subscription("Cloud", domain.FrequencyYearly, date(2024, time.June, 1))); err != nil {
		t.Fatalf("CreateSubscription() error: %v", err)
	}
	commits = 0

	res, err := billing.New(l, billing.WithClock(at(date(2024, time.December, 31)))).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Count != 0 || !res.Amount.IsZero() {
		t.Errorf("Run() = %+v, want zero", res)
	}
	if commits != 0 {
		t.Errorf("commit hooks fired %d times, want 0", commits)
	}
	if !res.Balance.Current.IsZero() {
		t.Errorf("balance = %s, want 0", res.Balance.Current)
	}
}

func TestPlan_MultipleSubscriptions(t *testing.T) {
	today := date(2024, time.March, 10)
	due := subscription("Phone", domain.FrequencyMonthly, date(2024, time.February, 10))
	due.ID = "a"
	notDue := subscription("Paper", domain.FrequencyMonthly, date(2024, time.February, 20))
	notDue.ID = "b"

	plan := billing.Plan([]domain.Subscription{due, notDue}, today)
	if len(plan.Transactions) != 1 || len(plan.Advanced) != 1 {
		t.Fatalf("Plan() = %+v, want one due", plan)
	}
	if plan.Advanced[0].ID != "a" || *plan.Advanced[0].LastBilledDate != today {
		t.Errorf("advanced = %+v", plan.Advanced[0])
	}
	if due.LastBilledDate != nil {
		t.Error("Plan() mutated its input")
	}
}

func TestSchedule_BillsThenStopsOnCancel(t *testing.T) {
	l := ledger.New(inmemory.NewStore())
	if _, err := l.CreateSubscription(context.Background(), subscription("Streaming", domain.FrequencyMonthly, date(2024, time.January, 31))); err != nil {
		t.Fatalf("CreateSubscription() error: %v", err)
	}
	biller := billing.New(l, billing.WithClock(at(date(2024, time.March, 1))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		biller.Schedule(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		txs, err := l.ListTransactions(context.Background(), ledger.ListOptions{})
		if err != nil {
			t.Fatalf("ListTransactions() error: %v", err)
		}
		if len(txs) == 1 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("scheduled run did not bill, got %d transactions", len(txs))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Schedule did not return after cancel")
	}
}

func TestSchedule_NonPositiveIntervalIsNoop(t *testing.T) {
	l := ledger.New(inmemory.NewStore())
	if _, err := l.CreateSubscription(context.Background(), subscription("Streaming", domain.FrequencyMonthly, date(2024, time.January, 31))); err != nil {
		t.Fatalf("CreateSubscription() error: %v", err)
	}
	biller := billing.New(l, billing.WithClock(at(date(2024, time.March, 1))))

	biller.Schedule(context.Background(), 0)

	txs, err := l.ListTransactions(context.Background(), ledger.ListOptions{})
	if err != nil {
		t.Fatalf("ListTransactions() error: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("got %d transactions, want none", len(txs))
	}
}
