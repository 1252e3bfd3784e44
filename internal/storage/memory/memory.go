package memory

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"dompet/internal/core"
	"dompet/internal/storage"

	"github.com/google/uuid"
)

// Store keeps wallets, transactions and ledger entries in process memory.
// It honours the same version and ledger semantics as the SQLite repository.
type Store struct {
	mu      sync.Mutex
	wallets map[string]core.Wallet
	txs     map[string]core.Transaction
	entries map[string]core.LedgerEntry
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		wallets: map[string]core.Wallet{},
		txs:     map[string]core.Transaction{},
		entries: map[string]core.LedgerEntry{},
		now:     time.Now,
	}
}

// NewFromFiles seeds wallets from base/seed_wallets.txt, one "owner,name"
// pair per line. Missing files yield an empty store.
func NewFromFiles(base string) *Store {
	s := New()
	for _, line := range readLines(filepath.Join(base, "seed_wallets.txt")) {
		owner, name, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		w := core.NewWallet(uuid.NewString(), strings.TrimSpace(owner), name, "", s.now())
		if w.Validate() != nil {
			continue
		}
		s.wallets[w.ID] = w
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) GetWallet(_ context.Context, id string) (core.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	return w, nil
}

func (s *Store) ListWallets(_ context.Context, ownerID string) ([]core.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Wallet
	for _, w := range s.wallets {
		if w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b core.Wallet) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) CreateWallet(_ context.Context, w core.Wallet) (core.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[w.ID]; ok {
		return core.Wallet{}, fmt.Errorf("%w: wallet %s already exists", core.ErrConflict, w.ID)
	}
	w.Version = 0
	s.wallets[w.ID] = w
	return w, nil
}

func (s *Store) UpdateWalletProfile(_ context.Context, w core.Wallet) (core.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.wallets[w.ID]
	if !ok {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	cur.Name = w.Name
	cur.Image = w.Image
	s.wallets[w.ID] = cur
	return cur, nil
}

func (s *Store) DeleteWallet(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[id]; !ok {
		return core.ErrWalletNotFound
	}
	for txID, t := range s.txs {
		if t.WalletID == id {
			delete(s.txs, txID)
		}
	}
	for entryID, e := range s.entries {
		if e.WalletID == id && e.Status == core.EntryPending {
			e.Status = core.EntryAbandoned
			s.entries[entryID] = e
		}
	}
	delete(s.wallets, id)
	return nil
}

func (s *Store) CommitDelta(_ context.Context, w core.Wallet, entryIDs ...string) (core.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.wallets[w.ID]
	if !ok {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	if cur.Version != w.Version {
		return core.Wallet{}, fmt.Errorf("%w: wallet %s version %d", core.ErrConflict, w.ID, w.Version)
	}
	if err := s.checkPending(entryIDs); err != nil {
		return core.Wallet{}, err
	}
	cur.Balance = w.Balance
	cur.TotalIncome = w.TotalIncome
	cur.TotalExpenses = w.TotalExpenses
	cur.Version++
	s.wallets[w.ID] = cur
	s.markApplied(entryIDs)
	return cur, nil
}

func (s *Store) checkPending(entryIDs []string) error {
	for _, id := range entryIDs {
		if e, ok := s.entries[id]; !ok || e.Status != core.EntryPending {
			return fmt.Errorf("%w: ledger entry %s is not pending", core.ErrConflict, id)
		}
	}
	return nil
}

func (s *Store) markApplied(entryIDs []string) {
	now := s.now()
	for _, id := range entryIDs {
		e := s.entries[id]
		e.Status = core.EntryApplied
		e.AppliedAt = now
		s.entries[id] = e
	}
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, core.ErrTransactionNotFound
	}
	return t, nil
}

func (s *Store) SaveTransaction(_ context.Context, t core.Transaction, entryIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[t.WalletID]; !ok {
		return core.ErrWalletNotFound
	}
	if err := s.checkPending(entryIDs); err != nil {
		return err
	}
	if prev, ok := s.txs[t.ID]; ok {
		t.CreatedAt = prev.CreatedAt
	}
	s.txs[t.ID] = t
	s.markApplied(entryIDs)
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string, entryIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPending(entryIDs); err != nil {
		return err
	}
	delete(s.txs, id)
	s.markApplied(entryIDs)
	return nil
}

func (s *Store) QueryTransactions(_ context.Context, q core.TransactionQuery) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, t := range s.txs {
		if t.OwnerID != q.OwnerID {
			continue
		}
		if q.WalletID != "" && t.WalletID != q.WalletID {
			continue
		}
		if !q.From.IsZero() && t.Date.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !t.Date.Before(q.To) {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b core.Transaction) int {
		c := a.Date.Compare(b.Date)
		if c == 0 {
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if q.Oldest {
			return c
		}
		return -c
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) EarliestTransaction(ctx context.Context, ownerID string) (core.Transaction, bool, error) {
	txs, _ := s.QueryTransactions(ctx, core.TransactionQuery{OwnerID: ownerID, Limit: 1, Oldest: true})
	if len(txs) == 0 {
		return core.Transaction{}, false, nil
	}
	return txs[0], true, nil
}

func (s *Store) AppendEntries(_ context.Context, entries []core.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.entries[e.ID]; ok {
			return fmt.Errorf("%w: ledger entry %s already exists", core.ErrConflict, e.ID)
		}
	}
	for _, e := range entries {
		e.Status = core.EntryPending
		e.Payload = slices.Clone(e.Payload)
		s.entries[e.ID] = e
	}
	return nil
}

func (s *Store) AbandonGroup(_ context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.GroupID == groupID && e.Status == core.EntryPending {
			e.Status = core.EntryAbandoned
			s.entries[id] = e
		}
	}
	return nil
}

func (s *Store) PendingEntries(_ context.Context, limit int) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.partial(func(core.LedgerEntry) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PendingForTransaction(_ context.Context, transactionID string) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial(func(e core.LedgerEntry) bool { return e.TransactionID == transactionID }), nil
}

// partial returns the matching pending entries of groups that have an
// applied entry. Callers hold s.mu.
func (s *Store) partial(match func(core.LedgerEntry) bool) []core.LedgerEntry {
	started := map[string]bool{}
	for _, e := range s.entries {
		if e.Status == core.EntryApplied {
			started[e.GroupID] = true
		}
	}
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if e.Status == core.EntryPending && started[e.GroupID] && match(e) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

func (s *Store) GroupEntries(_ context.Context, groupID string) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(es []core.LedgerEntry) {
	slices.SortFunc(es, func(a, b core.LedgerEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.GroupID, b.GroupID); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
