package http

import (
	"time"

	"dompet/internal/core"
	"dompet/internal/reconcile"
	"dompet/internal/services"
	"dompet/internal/stats"

	"github.com/shopspring/decimal"
)

// Amounts are rendered as fixed two-digit strings so clients never see floats.
func money(d decimal.Decimal) string {
	return d.StringFixed(core.MoneyScale)
}

type walletJSON struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Balance       string    `json:"balance"`
	TotalIncome   string    `json:"total_income"`
	TotalExpenses string    `json:"total_expenses"`
	Image         string    `json:"image,omitempty"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
}

func toWalletJSON(w core.Wallet) walletJSON {
	return walletJSON{
		ID:            w.ID,
		Name:          w.Name,
		Balance:       money(w.Balance),
		TotalIncome:   money(w.TotalIncome),
		TotalExpenses: money(w.TotalExpenses),
		Image:         w.Image,
		Version:       w.Version,
		CreatedAt:     w.CreatedAt,
	}
}

func toWalletsJSON(ws []core.Wallet) []walletJSON {
	out := make([]walletJSON, 0, len(ws))
	for _, w := range ws {
		out = append(out, toWalletJSON(w))
	}
	return out
}

type transactionJSON struct {
	ID          string    `json:"id"`
	WalletID    string    `json:"wallet_id"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	Category    string    `json:"category,omitempty"`
	Date        time.Time `json:"date"`
	Description string    `json:"description,omitempty"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:          t.ID,
		WalletID:    t.WalletID,
		Type:        t.Kind.String(),
		Amount:      money(t.Amount),
		Category:    t.Category,
		Date:        t.Date,
		Description: t.Description,
		Image:       t.Image,
		CreatedAt:   t.CreatedAt,
	}
}

func toTransactionsJSON(ts []core.Transaction) []transactionJSON {
	out := make([]transactionJSON, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTransactionJSON(t))
	}
	return out
}

type reconcileJSON struct {
	Transaction transactionJSON `json:"transaction"`
	Wallets     []walletJSON    `json:"wallets"`
	Skipped     bool            `json:"skipped,omitempty"`
}

func toReconcileJSON(res reconcile.Result) reconcileJSON {
	return reconcileJSON{
		Transaction: toTransactionJSON(res.Transaction),
		Wallets:     toWalletsJSON(res.Wallets),
		Skipped:     res.Skipped,
	}
}

type summaryJSON struct {
	Balance       string `json:"balance"`
	TotalIncome   string `json:"total_income"`
	TotalExpenses string `json:"total_expenses"`
	Wallets       int    `json:"wallets"`
}

type homeJSON struct {
	Summary summaryJSON       `json:"summary"`
	Wallets []walletJSON      `json:"wallets"`
	Recent  []transactionJSON `json:"recent"`
}

func toHomeJSON(h services.Home) homeJSON {
	return homeJSON{
		Summary: summaryJSON{
			Balance:       money(h.Summary.Balance),
			TotalIncome:   money(h.Summary.TotalIncome),
			TotalExpenses: money(h.Summary.TotalExpenses),
			Wallets:       h.Summary.Wallets,
		},
		Wallets: toWalletsJSON(h.Wallets),
		Recent:  toTransactionsJSON(h.Recent),
	}
}

type bucketJSON struct {
	Label   string    `json:"label"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Income  string    `json:"income"`
	Expense string    `json:"expense"`
}

type categoryJSON struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type reportJSON struct {
	Period       string            `json:"period"`
	Income       string            `json:"income"`
	Expense      string            `json:"expense"`
	Buckets      []bucketJSON      `json:"buckets"`
	Categories   []categoryJSON    `json:"categories"`
	Transactions []transactionJSON `json:"transactions"`
}

func toReportJSON(r stats.Report) reportJSON {
	income, expense := r.Totals()
	out := reportJSON{
		Period:       r.Period.String(),
		Income:       money(income),
		Expense:      money(expense),
		Buckets:      make([]bucketJSON, 0, len(r.Buckets)),
		Categories:   make([]categoryJSON, 0, len(r.Categories)),
		Transactions: toTransactionsJSON(r.Transactions),
	}
	for _, b := range r.Buckets {
		out.Buckets = append(out.Buckets, bucketJSON{
			Label:   b.Label,
			Start:   b.Start,
			End:     b.End,
			Income:  money(b.Income),
			Expense: money(b.Expense),
		})
	}
	for _, c := range r.Categories {
		out.Categories = append(out.Categories, categoryJSON{Name: c.Name, Amount: money(c.Amount)})
	}
	return out
}

type categoryOptionJSON struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}
