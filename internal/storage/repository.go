package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dompet/internal/core"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer connection keeps CAS updates and ledger marks serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func dsn(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const walletColumns = `id, owner_id, name, balance, total_income, total_expenses, image, version, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (core.Wallet, error) {
	var (
		w       core.Wallet
		created int64
	)
	err := row.Scan(&w.ID, &w.OwnerID, &w.Name, &w.Balance, &w.TotalIncome, &w.TotalExpenses,
		&w.Image, &w.Version, &created)
	if err != nil {
		return core.Wallet{}, err
	}
	w.CreatedAt = fromNanos(created)
	return w, nil
}

func (r *SQLiteRepository) GetWallet(ctx context.Context, id string) (core.Wallet, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id)
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	if err != nil {
		return core.Wallet{}, core.StorageFailure("get wallet", err)
	}
	return w, nil
}

func (r *SQLiteRepository) ListWallets(ctx context.Context, ownerID string) ([]core.Wallet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, core.StorageFailure("list wallets", err)
	}
	defer rows.Close()

	var out []core.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, core.StorageFailure("scan wallet", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageFailure("list wallets", err)
	}
	return out, nil
}

func (r *SQLiteRepository) CreateWallet(ctx context.Context, w core.Wallet) (core.Wallet, error) {
	w.Version = 0
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wallets (`+walletColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.OwnerID, w.Name, w.Balance, w.TotalIncome, w.TotalExpenses, w.Image, w.Version,
		toNanos(w.CreatedAt))
	if err != nil {
		return core.Wallet{}, core.StorageFailure("create wallet", err)
	}

	slog.InfoContext(ctx, "Wallet saved to SQLite", "id", w.ID, "owner", w.OwnerID)
	return w, nil
}

func (r *SQLiteRepository) UpdateWalletProfile(ctx context.Context, w core.Wallet) (core.Wallet, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE wallets SET name = ?, image = ? WHERE id = ?`, w.Name, w.Image, w.ID)
	if err != nil {
		return core.Wallet{}, core.StorageFailure("update wallet", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	return r.GetWallet(ctx, w.ID)
}

func (r *SQLiteRepository) DeleteWallet(ctx context.Context, id string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE wallet_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ledger_entries SET status = 'abandoned' WHERE wallet_id = ? AND status = 'pending'`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM wallets WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrWalletNotFound
		}
		return nil
	})
	if err != nil {
		return core.StorageFailure("delete wallet", err)
	}

	slog.InfoContext(ctx, "Wallet deleted with its transactions", "id", id)
	return nil
}

func (r *SQLiteRepository) CommitDelta(ctx context.Context, w core.Wallet, entryIDs ...string) (core.Wallet, error) {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE wallets SET balance = ?, total_income = ?, total_expenses = ?, version = version + 1
			 WHERE id = ? AND version = ?`,
			w.Balance, w.TotalIncome, w.TotalExpenses, w.ID, w.Version)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM wallets WHERE id = ?`, w.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return core.ErrWalletNotFound
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: wallet %s version %d", core.ErrConflict, w.ID, w.Version)
		}
		return r.markApplied(ctx, tx, entryIDs)
	})
	if err != nil {
		return core.Wallet{}, core.StorageFailure("commit wallet", err)
	}
	w.Version++
	return w, nil
}

// markApplied flips pending entries to applied. An entry that is no longer
// pending was handled by someone else, so the surrounding write is rejected.
func (r *SQLiteRepository) markApplied(ctx context.Context, tx *sql.Tx, entryIDs []string) error {
	now := toNanos(r.now())
	for _, id := range entryIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE ledger_entries SET status = 'applied', applied_at = ? WHERE id = ? AND status = 'pending'`,
			now, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: ledger entry %s is not pending", core.ErrConflict, id)
		}
	}
	return nil
}

const transactionColumns = `id, owner_id, wallet_id, kind, amount, category, description, image, date, created_at`

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t             core.Transaction
		kind          string
		date, created int64
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.WalletID, &kind, &t.Amount, &t.Category, &t.Description,
		&t.Image, &date, &created)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.Kind, err = core.ParseKind(kind); err != nil {
		return core.Transaction{}, err
	}
	t.Date = fromNanos(date)
	t.CreatedAt = fromNanos(created)
	return t, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrTransactionNotFound
	}
	if err != nil {
		return core.Transaction{}, core.StorageFailure("get transaction", err)
	}
	return t, nil
}

func (r *SQLiteRepository) SaveTransaction(ctx context.Context, t core.Transaction, entryIDs ...string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   wallet_id = excluded.wallet_id,
			   kind = excluded.kind,
			   amount = excluded.amount,
			   category = excluded.category,
			   description = excluded.description,
			   image = excluded.image,
			   date = excluded.date`,
			t.ID, t.OwnerID, t.WalletID, t.Kind.String(), t.Amount, t.Category, t.Description, t.Image,
			toNanos(t.Date), toNanos(t.CreatedAt))
		if err != nil {
			return err
		}
		return r.markApplied(ctx, tx, entryIDs)
	})
	if err != nil {
		return core.StorageFailure("save transaction", err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite", "id", t.ID, "wallet", t.WalletID, "kind", t.Kind.String())
	return nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string, entryIDs ...string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
			return err
		}
		return r.markApplied(ctx, tx, entryIDs)
	})
	if err != nil {
		return core.StorageFailure("delete transaction", err)
	}
	return nil
}

func (r *SQLiteRepository) QueryTransactions(ctx context.Context, q core.TransactionQuery) ([]core.Transaction, error) {
	var (
		where = []string{"owner_id = ?"}
		args  = []any{q.OwnerID}
	)
	if q.WalletID != "" {
		where = append(where, "wallet_id = ?")
		args = append(args, q.WalletID)
	}
	if !q.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, toNanos(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "date < ?")
		args = append(args, toNanos(q.To))
	}
	order := "date DESC, created_at DESC"
	if q.Oldest {
		order = "date ASC, created_at ASC"
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ` + order
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.StorageFailure("query transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, core.StorageFailure("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageFailure("query transactions", err)
	}
	return out, nil
}

func (r *SQLiteRepository) EarliestTransaction(ctx context.Context, ownerID string) (core.Transaction, bool, error) {
	txs, err := r.QueryTransactions(ctx, core.TransactionQuery{OwnerID: ownerID, Limit: 1, Oldest: true})
	if err != nil {
		return core.Transaction{}, false, err
	}
	if len(txs) == 0 {
		return core.Transaction{}, false, nil
	}
	return txs[0], true, nil
}

func (r *SQLiteRepository) AppendEntries(ctx context.Context, entries []core.LedgerEntry) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			kind := ""
			if e.Kind.Valid() {
				kind = e.Kind.String()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO ledger_entries
				 (id, group_id, seq, step, wallet_id, transaction_id, kind, amount, status, payload, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
				e.ID, e.GroupID, e.Seq, string(e.Step), e.WalletID, e.TransactionID, kind, e.Amount,
				e.Payload, toNanos(e.CreatedAt))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.StorageFailure("append ledger entries", err)
	}
	return nil
}

func (r *SQLiteRepository) AbandonGroup(ctx context.Context, groupID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ledger_entries SET status = 'abandoned' WHERE group_id = ? AND status = 'pending'`, groupID)
	if err != nil {
		return core.StorageFailure("abandon ledger group", err)
	}
	return nil
}

const ledgerColumns = `id, group_id, seq, step, wallet_id, transaction_id, kind, amount, status, payload, created_at, applied_at`

func scanEntry(row rowScanner) (core.LedgerEntry, error) {
	var (
		e                core.LedgerEntry
		step, status     string
		kind             string
		created, applied int64
		amount           decimal.Decimal
	)
	err := row.Scan(&e.ID, &e.GroupID, &e.Seq, &step, &e.WalletID, &e.TransactionID, &kind, &amount,
		&status, &e.Payload, &created, &applied)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	e.Step = core.Step(step)
	e.Status = core.EntryStatus(status)
	e.Amount = amount
	if kind != "" {
		if e.Kind, err = core.ParseKind(kind); err != nil {
			return core.LedgerEntry{}, err
		}
	}
	e.CreatedAt = fromNanos(created)
	if applied != 0 {
		e.AppliedAt = fromNanos(applied)
	}
	return e, nil
}

func (r *SQLiteRepository) queryEntries(ctx context.Context, op, query string, args ...any) ([]core.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.StorageFailure(op, err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, core.StorageFailure(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageFailure(op, err)
	}
	return out, nil
}

func (r *SQLiteRepository) PendingEntries(ctx context.Context, limit int) ([]core.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries p
		WHERE p.status = 'pending'
		  AND EXISTS (SELECT 1 FROM ledger_entries a WHERE a.group_id = p.group_id AND a.status = 'applied')
		ORDER BY p.created_at, p.group_id, p.seq`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryEntries(ctx, "pending ledger entries", query, args...)
}

func (r *SQLiteRepository) PendingForTransaction(ctx context.Context, transactionID string) ([]core.LedgerEntry, error) {
	return r.queryEntries(ctx, "pending ledger entries for transaction",
		`SELECT `+ledgerColumns+` FROM ledger_entries p
		WHERE p.transaction_id = ? AND p.status = 'pending'
		  AND EXISTS (SELECT 1 FROM ledger_entries a WHERE a.group_id = p.group_id AND a.status = 'applied')
		ORDER BY p.created_at, p.group_id, p.seq`, transactionID)
}

func (r *SQLiteRepository) GroupEntries(ctx context.Context, groupID string) ([]core.LedgerEntry, error) {
	return r.queryEntries(ctx, "ledger group",
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE group_id = ? ORDER BY seq`, groupID)
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
