package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the closed set of transaction types. The zero value is invalid.
type Kind uint8

const (
	Income Kind = iota + 1
	Expense
)

type (
	Wallet struct {
		ID            string
		OwnerID       string
		Name          string
		Balance       decimal.Decimal
		TotalIncome   decimal.Decimal
		TotalExpenses decimal.Decimal
		Image         string
		Version       int64 // optimistic concurrency token, bumped on every balance write
		CreatedAt     time.Time
	}

	Transaction struct {
		ID          string
		OwnerID     string
		WalletID    string
		Kind        Kind
		Amount      decimal.Decimal
		Category    string // required for expenses
		Date        time.Time
		Description string
		Image       string
		CreatedAt   time.Time
	}

	// TransactionQuery selects an owner's transactions. Zero bounds are open.
	TransactionQuery struct {
		OwnerID  string
		WalletID string
		From     time.Time // inclusive
		To       time.Time // exclusive
		Limit    int
		Oldest   bool // ascending by date instead of the default newest-first
	}

	// Summary aggregates all wallets of one owner.
	Summary struct {
		Balance       decimal.Decimal
		TotalIncome   decimal.Decimal
		TotalExpenses decimal.Decimal
		Wallets       int
	}
)

// ParseKind maps the wire form ("income", "expense") to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income":
		return Income, nil
	case "expense":
		return Expense, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

func (k Kind) String() string {
	switch k {
	case Income:
		return "income"
	case Expense:
		return "expense"
	default:
		return "unknown"
	}
}

func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, ErrInvalidKind
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Signed returns the balance effect of amount for this kind:
// positive for income, negative for expense.
func (k Kind) Signed(amount decimal.Decimal) decimal.Decimal {
	switch k {
	case Income:
		return amount
	case Expense:
		return amount.Neg()
	default:
		panic(fmt.Sprintf("core: signed amount for invalid kind %d", k))
	}
}

// NewWallet returns a wallet with zero balance and totals.
func NewWallet(id, ownerID, name, image string, now time.Time) Wallet {
	return Wallet{
		ID:            id,
		OwnerID:       ownerID,
		Name:          strings.TrimSpace(name),
		Balance:       decimal.Zero,
		TotalIncome:   decimal.Zero,
		TotalExpenses: decimal.Zero,
		Image:         image,
		CreatedAt:     now,
	}
}

// Total returns the accumulator tracked for kind.
func (w Wallet) Total(k Kind) decimal.Decimal {
	switch k {
	case Income:
		return w.TotalIncome
	case Expense:
		return w.TotalExpenses
	default:
		panic(fmt.Sprintf("core: total for invalid kind %d", k))
	}
}

// Applied returns the wallet after recording amount of kind.
func (w Wallet) Applied(k Kind, amount decimal.Decimal) Wallet {
	w.Balance = w.Balance.Add(k.Signed(amount))
	switch k {
	case Income:
		w.TotalIncome = w.TotalIncome.Add(amount)
	case Expense:
		w.TotalExpenses = w.TotalExpenses.Add(amount)
	}
	return w
}

// Reverted returns the wallet with a previously applied amount of kind undone.
func (w Wallet) Reverted(k Kind, amount decimal.Decimal) Wallet {
	w.Balance = w.Balance.Sub(k.Signed(amount))
	switch k {
	case Income:
		w.TotalIncome = w.TotalIncome.Sub(amount)
	case Expense:
		w.TotalExpenses = w.TotalExpenses.Sub(amount)
	}
	return w
}

// CanSpend reports whether amount can leave the wallet without a negative balance.
func (w Wallet) CanSpend(amount decimal.Decimal) bool {
	return !w.Balance.Sub(amount).IsNegative()
}

func (w Wallet) Validate() error {
	if strings.TrimSpace(w.OwnerID) == "" {
		return ErrMissingOwner
	}
	if len(strings.TrimSpace(w.Name)) == 0 {
		return ErrEmptyWalletName
	}
	if len(w.Name) > 100 {
		return fmt.Errorf("%w: wallet name too long (max 100 characters)", ErrInvalidInput)
	}
	return nil
}

// Validate checks the transaction invariants that hold before any store access.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.OwnerID) == "" {
		return ErrMissingOwner
	}
	if strings.TrimSpace(t.WalletID) == "" {
		return ErrMissingWallet
	}
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	if t.Kind == Expense && strings.TrimSpace(t.Category) == "" {
		return ErrMissingCategory
	}
	if t.Date.IsZero() {
		return ErrMissingDate
	}
	if len(t.Description) > 500 {
		return fmt.Errorf("%w: description too long (max 500 characters)", ErrInvalidInput)
	}
	return nil
}

// SameEffect reports whether t and other affect wallets identically, i.e. only
// descriptive fields (description, category, date, image) differ.
func (t Transaction) SameEffect(other Transaction) bool {
	return t.Kind == other.Kind &&
		t.WalletID == other.WalletID &&
		t.Amount.Equal(other.Amount)
}

// Add folds a wallet into the summary.
func (s Summary) Add(w Wallet) Summary {
	s.Balance = s.Balance.Add(w.Balance)
	s.TotalIncome = s.TotalIncome.Add(w.TotalIncome)
	s.TotalExpenses = s.TotalExpenses.Add(w.TotalExpenses)
	s.Wallets++
	return s
}
