// Package stats folds the transaction log into fixed calendar buckets for
// charting: the last 7 days, the last 12 months, or every year since the
// owner's first transaction.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"dompet/internal/core"
	"dompet/internal/storage"

	"github.com/shopspring/decimal"
)

type Period int

const (
	Weekly Period = iota + 1
	Monthly
	Yearly
)

func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly", "week":
		return Weekly, nil
	case "monthly", "month":
		return Monthly, nil
	case "yearly", "year":
		return Yearly, nil
	default:
		return 0, fmt.Errorf("%w: unknown period %q", core.ErrInvalidInput, s)
	}
}

func (p Period) String() string {
	switch p {
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return "unknown"
	}
}

// Bucket covers [Start, End) and always carries both series.
type Bucket struct {
	Label   string
	Start   time.Time
	End     time.Time
	Income  decimal.Decimal
	Expense decimal.Decimal
}

type Report struct {
	Period  Period
	Buckets []Bucket
	// Transactions are the records fetched for the range, newest first.
	Transactions []core.Transaction
	// Categories breaks down the aggregated expenses.
	Categories []core.CategoryAmount
}

// Totals sums every bucket.
func (r Report) Totals() (income, expense decimal.Decimal) {
	income, expense = decimal.Zero, decimal.Zero
	for _, b := range r.Buckets {
		income = income.Add(b.Income)
		expense = expense.Add(b.Expense)
	}
	return income, expense
}

type Aggregator struct {
	records storage.TransactionStore
	now     func() time.Time
	loc     *time.Location
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLocation sets the zone whose calendar defines day, month and year boundaries.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func NewAggregator(records storage.TransactionStore, opts ...Option) *Aggregator {
	a := &Aggregator{records: records, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) Build(ctx context.Context, ownerID string, p Period) (Report, error) {
	switch p {
	case Weekly:
		return a.BuildWeekly(ctx, ownerID)
	case Monthly:
		return a.BuildMonthly(ctx, ownerID)
	case Yearly:
		return a.BuildYearly(ctx, ownerID)
	default:
		return Report{}, fmt.Errorf("%w: unknown period %d", core.ErrInvalidInput, int(p))
	}
}

// BuildWeekly returns 7 daily buckets ending today, labelled by weekday.
func (a *Aggregator) BuildWeekly(ctx context.Context, ownerID string) (Report, error) {
	now := a.now().In(a.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	first := today.AddDate(0, 0, -6)

	buckets := make([]Bucket, 7)
	for i := range buckets {
		start := first.AddDate(0, 0, i)
		buckets[i] = newBucket(start.Format("Mon"), start, start.AddDate(0, 0, 1))
	}
	return a.fold(ctx, ownerID, Weekly, buckets)
}

// BuildMonthly returns 12 monthly buckets ending with the current month,
// labelled "Jan 06".
func (a *Aggregator) BuildMonthly(ctx context.Context, ownerID string) (Report, error) {
	now := a.now().In(a.loc)
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, a.loc)
	first := current.AddDate(0, -11, 0)

	buckets := make([]Bucket, 12)
	for i := range buckets {
		start := first.AddDate(0, i, 0)
		buckets[i] = newBucket(start.Format("Jan 06"), start, start.AddDate(0, 1, 0))
	}
	return a.fold(ctx, ownerID, Monthly, buckets)
}

// BuildYearly returns one bucket per year from the owner's earliest
// transaction through the current year. The full history is read since the
// range depends on it.
func (a *Aggregator) BuildYearly(ctx context.Context, ownerID string) (Report, error) {
	txs, err := a.records.QueryTransactions(ctx, core.TransactionQuery{OwnerID: ownerID})
	if err != nil {
		return Report{}, fmt.Errorf("query transactions: %w", err)
	}

	now := a.now().In(a.loc)
	firstYear := now.Year()
	for _, tx := range txs {
		if y := tx.Date.In(a.loc).Year(); y < firstYear {
			firstYear = y
		}
	}

	buckets := make([]Bucket, 0, now.Year()-firstYear+1)
	for y := firstYear; y <= now.Year(); y++ {
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, a.loc)
		buckets = append(buckets, newBucket(start.Format("2006"), start, start.AddDate(1, 0, 0)))
	}
	return a.aggregate(Yearly, buckets, txs), nil
}

func newBucket(label string, start, end time.Time) Bucket {
	return Bucket{Label: label, Start: start, End: end, Income: decimal.Zero, Expense: decimal.Zero}
}

// fold reads the owner's transactions within the bucket range and aggregates them.
func (a *Aggregator) fold(ctx context.Context, ownerID string, p Period, buckets []Bucket) (Report, error) {
	q := core.TransactionQuery{
		OwnerID: ownerID,
		From:    buckets[0].Start,
		To:      buckets[len(buckets)-1].End,
	}
	txs, err := a.records.QueryTransactions(ctx, q)
	if err != nil {
		return Report{}, fmt.Errorf("query transactions: %w", err)
	}
	return a.aggregate(p, buckets, txs), nil
}

func (a *Aggregator) aggregate(p Period, buckets []Bucket, txs []core.Transaction) Report {
	var inRange []core.Transaction
	for _, tx := range txs {
		i := sort.Search(len(buckets), func(i int) bool { return tx.Date.Before(buckets[i].End) })
		if i == len(buckets) || tx.Date.Before(buckets[i].Start) {
			continue
		}
		switch tx.Kind {
		case core.Income:
			buckets[i].Income = buckets[i].Income.Add(tx.Amount)
		case core.Expense:
			buckets[i].Expense = buckets[i].Expense.Add(tx.Amount)
		}
		inRange = append(inRange, tx)
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	return Report{
		Period:       p,
		Buckets:      buckets,
		Transactions: txs,
		Categories:   core.ByCategory(inRange),
	}
}
