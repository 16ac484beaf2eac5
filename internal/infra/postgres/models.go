package postgres

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// TransactionModel is the transactions table.
type TransactionModel struct {
	ID          string          `gorm:"primaryKey;type:varchar(64)"`
	Type        string          `gorm:"type:varchar(16);not null;index"`
	Amount      decimal.Decimal `gorm:"type:numeric;not null"`
	Name        string          `gorm:"not null"`
	Category    string          `gorm:"type:varchar(32);not null;index"`
	Date        time.Time       `gorm:"type:date;not null;index"`
	IsNecessary bool            `gorm:"not null"`
	Notes       string
	CreatedAt   time.Time `gorm:"not null;index"`
}

func (TransactionModel) TableName() string { return "transactions" }

// SubscriptionModel is the subscriptions table.
type SubscriptionModel struct {
	ID             string          `gorm:"primaryKey;type:varchar(64)"`
	Name           string          `gorm:"not null"`
	Amount         decimal.Decimal `gorm:"type:numeric;not null"`
	Category       string          `gorm:"type:varchar(32);not null"`
	Frequency      string          `gorm:"type:varchar(16);not null"`
	StartDate      time.Time       `gorm:"type:date;not null"`
	IsNecessary    bool            `gorm:"not null"`
	LastBilledDate *time.Time      `gorm:"type:date"`
	Notes          string
	CreatedAt      time.Time `gorm:"not null"`
}

func (SubscriptionModel) TableName() string { return "subscriptions" }

// BalanceModel is the single-row balance table.
type BalanceModel struct {
	ID             string          `gorm:"primaryKey;type:varchar(16)"`
	CurrentBalance decimal.Decimal `gorm:"type:numeric;not null"`
	LastUpdated    time.Time       `gorm:"not null"`
}

func (BalanceModel) TableName() string { return "balance" }

// Models lists every table AutoMigrate manages.
func Models() []interface{} {
	return []interface{}{&TransactionModel{}, &SubscriptionModel{}, &BalanceModel{}}
}

func dateToTime(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func timeToDate(t time.Time) civil.Date {
	return civil.DateOf(t.UTC())
}

func transactionModel(t domain.Transaction) TransactionModel {
	return TransactionModel{
		ID:          t.ID,
		Type:        string(t.Type),
		Amount:      t.Amount,
		Name:        t.Name,
		Category:    string(t.Category),
		Date:        dateToTime(t.Date),
		IsNecessary: t.IsNecessary,
		Notes:       t.Notes,
		CreatedAt:   t.CreatedAt.UTC(),
	}
}

func (m TransactionModel) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:          m.ID,
		Type:        domain.TransactionType(m.Type),
		Amount:      m.Amount,
		Name:        m.Name,
		Category:    domain.Category(m.Category),
		Date:        timeToDate(m.Date),
		IsNecessary: m.IsNecessary,
		Notes:       m.Notes,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

func subscriptionModel(s domain.Subscription) SubscriptionModel {
	m := SubscriptionModel{
		ID:          s.ID,
		Name:        s.Name,
		Amount:      s.Amount,
		Category:    string(s.Category),
		Frequency:   string(s.Frequency),
		StartDate:   dateToTime(s.StartDate),
		IsNecessary: s.IsNecessary,
		Notes:       s.Notes,
		CreatedAt:   s.CreatedAt.UTC(),
	}
	if s.LastBilledDate != nil {
		t := dateToTime(*s.LastBilledDate)
		m.LastBilledDate = &t
	}
	return m
}

func (m SubscriptionModel) toDomain() domain.Subscription {
	s := domain.Subscription{
		ID:          m.ID,
		Name:        m.Name,
		Amount:      m.Amount,
		Category:    domain.Category(m.Category),
		Frequency:   domain.Frequency(m.Frequency),
		StartDate:   timeToDate(m.StartDate),
		IsNecessary: m.IsNecessary,
		Notes:       m.Notes,
		CreatedAt:   m.CreatedAt.UTC(),
	}
	if m.LastBilledDate != nil {
		d := timeToDate(*m.LastBilledDate)
		s.LastBilledDate = &d
	}
	return s
}
