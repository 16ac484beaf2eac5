package importer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/statement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry is one staged statement line awaiting review.
type Entry struct {
	TempID      string                 `json:"temp_id"`
	Date        civil.Date             `json:"date"`
	Name        string                 `json:"name"`
	Type        domain.TransactionType `json:"type"`
	Amount      decimal.Decimal        `json:"amount"`
	Category    domain.Category        `json:"category"`
	IsNecessary bool                   `json:"is_necessary"`
	Included    bool                   `json:"included"`
	// Duplicate marks an entry that matches a transaction already in the ledger.
	Duplicate bool `json:"duplicate"`
	// Invalid holds the reason a record failed validation. Invalid entries stay
	// excluded until an edit makes them valid.
	Invalid string `json:"invalid,omitempty"`
	// RawDate keeps a statement date that could not be read as a calendar date.
	RawDate string `json:"raw_date,omitempty"`
}

func (e Entry) record() statement.Record {
	d := e.RawDate
	if d == "" && e.Date.IsValid() {
		d = e.Date.String()
	}
	return statement.Record{Date: d, Name: e.Name, Type: e.Type, Amount: e.Amount}
}

// Staged is an import that has been parsed but not yet committed.
type Staged struct {
	ID           string           `json:"id"`
	Source       string           `json:"source"`
	Entries      []Entry          `json:"entries"`
	FinalBalance *decimal.Decimal `json:"final_balance,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

func (s *Staged) clone() *Staged {
	c := *s
	c.Entries = append([]Entry(nil), s.Entries...)
	if s.FinalBalance != nil {
		fb := *s.FinalBalance
		c.FinalBalance = &fb
	}
	return &c
}

// EntryPatch carries the user-editable fields of an entry. Nil fields are left unchanged.
type EntryPatch struct {
	Date        *string
	Category    *string
	Name        *string
	IsNecessary *bool
	Included    *bool
}

// ConfirmResult is the outcome of a committed import.
type ConfirmResult struct {
	Imported     int                  `json:"imported"`
	Balance      domain.Balance       `json:"balance"`
	Transactions []domain.Transaction `json:"transactions"`
}

type slot struct {
	staged     *Staged
	confirming bool
}

// Reconciler keeps staged imports in memory until they are confirmed or discarded.
type Reconciler struct {
	ledger *ledger.Ledger
	now    func() time.Time
	newID  func() string

	mu     sync.RWMutex
	staged map[string]*slot
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source for staged imports.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIDGenerator overrides import id generation.
func WithIDGenerator(newID func() string) Option {
	return func(r *Reconciler) { r.newID = newID }
}

// New creates a Reconciler that commits through l.
func New(l *ledger.Ledger, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger: l,
		now:    time.Now,
		newID:  uuid.NewString,
		staged: make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stage holds records as a reviewable import. Every entry gets a temporary id,
// the default category for its type, is marked necessary and included.
// Entries that match an existing ledger transaction on date, type, amount and
// name are flagged as duplicates and excluded. Records that fail validation
// are staged excluded with the reason in Invalid; one bad row never rejects
// the statement.
func (r *Reconciler) Stage(ctx context.Context, source string, recs []statement.Record, finalBalance *decimal.Decimal) (*Staged, error) {
	log := logger.FromContext(ctx)

	existing, err := r.ledger.ListTransactions(ctx, ledger.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("Stage: loading ledger: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[dedupeKey(t.Date, t.Type, t.Amount, t.Name)] = true
	}

	s := &Staged{
		ID:        r.newID(),
		Source:    source,
		Entries:   make([]Entry, len(recs)),
		CreatedAt: r.now().UTC(),
	}
	if finalBalance != nil {
		fb := *finalBalance
		s.FinalBalance = &fb
	}

	duplicates, invalid := 0, 0
	for i, rec := range recs {
		e := Entry{
			TempID:      fmt.Sprintf("temp-%d", i),
			Name:        strings.TrimSpace(rec.Name),
			Type:        rec.Type,
			Amount:      rec.Amount,
			IsNecessary: true,
			Included:    true,
		}
		v, err := statement.Validate(rec)
		if err != nil {
			e.Invalid = err.Error()
			e.Included = false
			if d, ok := readDate(rec.Date); ok {
				e.Date = d
			} else {
				e.RawDate = rec.Date
			}
			invalid++
		} else {
			e.Date, _ = v.CivilDate()
			e.Type = v.Type
			if seen[dedupeKey(e.Date, v.Type, v.Amount, v.Name)] {
				e.Duplicate, e.Included = true, false
				duplicates++
			}
		}
		e.Category = domain.DefaultCategory(e.Type)
		s.Entries[i] = e
	}

	r.mu.Lock()
	r.staged[s.ID] = &slot{staged: s}
	r.mu.Unlock()

	log.Info().
		Str("import_id", s.ID).
		Str("source", source).
		Int("entries", len(s.Entries)).
		Int("duplicates", duplicates).
		Int("invalid", invalid).
		Msg("Import staged")

	return s.clone(), nil
}

// readDate parses raw as YYYY-MM-DD or DD/MM/YYYY.
func readDate(raw string) (civil.Date, bool) {
	d, err := statement.Record{Date: statement.NormalizeDate(raw)}.CivilDate()
	return d, err == nil
}

func dedupeKey(d civil.Date, t domain.TransactionType, amount decimal.Decimal, name string) string {
	return strings.Join([]string{
		d.String(),
		string(t),
		amount.String(),
		strings.ToLower(strings.TrimSpace(name)),
	}, "|")
}

// Get returns a copy of the staged import.
func (r *Reconciler) Get(id string) (*Staged, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sl, ok := r.staged[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "import", ID: id}
	}
	return sl.staged.clone(), nil
}

// List returns copies of all staged imports, oldest first.
func (r *Reconciler) List() []*Staged {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Staged, 0, len(r.staged))
	for _, sl := range r.staged {
		out = append(out, sl.staged.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Edit applies patch to one entry. All fields are validated before any is
// applied. An invalid entry is revalidated after the edit and can only be
// included once it passes.
func (r *Reconciler) Edit(id, tempID string, patch EntryPatch) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sl, err := r.editable(id)
	if err != nil {
		return Entry{}, err
	}
	idx := -1
	for i, e := range sl.staged.Entries {
		if e.TempID == tempID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Entry{}, &domain.NotFoundError{Kind: "import entry", ID: tempID}
	}

	e := sl.staged.Entries[idx]
	if patch.Date != nil {
		d, ok := readDate(*patch.Date)
		if !ok {
			return Entry{}, &domain.ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not a date", *patch.Date)}
		}
		e.Date, e.RawDate = d, ""
	}
	if patch.Category != nil {
		c, err := domain.ParseCategory(e.Type, *patch.Category)
		if err != nil {
			return Entry{}, err
		}
		e.Category = c
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Entry{}, &domain.ValidationError{Field: "name", Reason: "is required"}
		}
		e.Name = name
	}
	if patch.IsNecessary != nil {
		e.IsNecessary = *patch.IsNecessary
	}
	if e.Invalid != "" {
		if _, err := statement.Validate(e.record()); err != nil {
			e.Invalid = err.Error()
		} else {
			e.Invalid = ""
		}
	}
	if patch.Included != nil {
		if *patch.Included && e.Invalid != "" {
			return Entry{}, &domain.ValidationError{Field: "included", Reason: "entry is invalid: " + e.Invalid}
		}
		e.Included = *patch.Included
	}
	sl.staged.Entries[idx] = e
	return e, nil
}

// SetDate corrects the date of an entry. DD/MM/YYYY is accepted.
func (r *Reconciler) SetDate(id, tempID, date string) (Entry, error) {
	return r.Edit(id, tempID, EntryPatch{Date: &date})
}

// SetCategory changes the category of an entry within its type's vocabulary.
func (r *Reconciler) SetCategory(id, tempID, category string) (Entry, error) {
	return r.Edit(id, tempID, EntryPatch{Category: &category})
}

// SetName renames an entry.
func (r *Reconciler) SetName(id, tempID, name string) (Entry, error) {
	return r.Edit(id, tempID, EntryPatch{Name: &name})
}

// SetNecessity flags an entry as necessary or optional.
func (r *Reconciler) SetNecessity(id, tempID string, necessary bool) (Entry, error) {
	return r.Edit(id, tempID, EntryPatch{IsNecessary: &necessary})
}

// SetIncluded includes or excludes an entry from the commit.
func (r *Reconciler) SetIncluded(id, tempID string, included bool) (Entry, error) {
	return r.Edit(id, tempID, EntryPatch{Included: &included})
}

// SetFinalBalance replaces the closing balance hint. Nil clears it.
func (r *Reconciler) SetFinalBalance(id string, value *decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sl, err := r.editable(id)
	if err != nil {
		return err
	}
	if value == nil {
		sl.staged.FinalBalance = nil
		return nil
	}
	v := *value
	sl.staged.FinalBalance = &v
	return nil
}

// Discard drops a staged import without touching the ledger.
func (r *Reconciler) Discard(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.editable(id); err != nil {
		return err
	}
	delete(r.staged, id)
	return nil
}

// editable must be called with mu held.
func (r *Reconciler) editable(id string) (*slot, error) {
	sl, ok := r.staged[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "import", ID: id}
	}
	if sl.confirming {
		return nil, &domain.ValidationError{Field: "import", Reason: "is being confirmed"}
	}
	return sl, nil
}

// Confirm commits the included entries and applies the balance policy in one
// unit of work. On success the staged import is removed; on failure it stays
// exactly as it was and can be edited and confirmed again.
func (r *Reconciler) Confirm(ctx context.Context, id string) (ConfirmResult, error) {
	log := logger.FromContext(ctx)

	r.mu.Lock()
	sl, err := r.editable(id)
	if err != nil {
		r.mu.Unlock()
		return ConfirmResult{}, fmt.Errorf("Confirm: %w", err)
	}
	sl.confirming = true
	snapshot := sl.staged.clone()
	r.mu.Unlock()

	txs := make([]domain.Transaction, 0, len(snapshot.Entries))
	for _, e := range snapshot.Entries {
		if !e.Included {
			continue
		}
		txs = append(txs, domain.Transaction{
			Type:        e.Type,
			Amount:      e.Amount,
			Name:        e.Name,
			Category:    e.Category,
			Date:        e.Date,
			IsNecessary: e.IsNecessary,
		})
	}

	res, err := r.ledger.ImportTransactions(ctx, txs, snapshot.FinalBalance)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		sl.confirming = false
		log.Warn().Err(err).Str("import_id", id).Msg("Import confirmation failed")
		return ConfirmResult{}, fmt.Errorf("Confirm: %w", err)
	}
	delete(r.staged, id)

	log.Info().
		Str("import_id", id).
		Int("imported", len(res.Transactions)).
		Str("balance", res.Balance.Current.String()).
		Msg("Import confirmed")

	return ConfirmResult{
		Imported:     len(res.Transactions),
		Balance:      res.Balance,
		Transactions: res.Transactions,
	}, nil
}
