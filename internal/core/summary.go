package core

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Category is an expense category from the fixed catalogue.
type Category struct {
	Key   string
	Label string
}

var categories = []Category{
	{"groceries", "Groceries"},
	{"rent", "Rent"},
	{"utilities", "Utilities"},
	{"transportation", "Transportation"},
	{"entertainment", "Entertainment"},
	{"dining", "Dining Out"},
	{"health", "Health"},
	{"insurance", "Insurance"},
	{"savings", "Savings"},
	{"clothing", "Clothing"},
	{"personal", "Personal Care"},
	{"others", "Others"},
}

// Categories returns a copy of the expense category catalogue.
func Categories() []Category {
	return slices.Clone(categories)
}

// NormalizeCategory returns the catalogue key for s, matching key or label
// case-insensitively.
func NormalizeCategory(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrMissingCategory
	}
	for _, c := range categories {
		if strings.EqualFold(c.Key, s) || strings.EqualFold(c.Label, s) {
			return c.Key, nil
		}
	}
	return "", ErrUnknownCategory
}

// CategoryAmount represents an amount aggregated by category key.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// ByCategory sums expense amounts per category, ordered by descending amount.
func ByCategory(txs []Transaction) []CategoryAmount {
	sums := map[string]decimal.Decimal{}
	for _, t := range txs {
		if t.Kind != Expense {
			continue
		}
		sums[t.Category] = sums[t.Category].Add(t.Amount)
	}
	out := make([]CategoryAmount, 0, len(sums))
	for name, amt := range sums {
		out = append(out, CategoryAmount{Name: name, Amount: amt})
	}
	slices.SortFunc(out, func(a, b CategoryAmount) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
