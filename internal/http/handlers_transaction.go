package http

import (
	"errors"
	"net/http"
	"time"

	"dompet/internal/core"
	"dompet/internal/services"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	txs, err := s.transactions.Recent(r.Context(), owner, sanitizeInput(r.URL.Query().Get("wallet_id")), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": toTransactionsJSON(txs)})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.transactions.Get(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(tx))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	form, err := readForm(w, r, s.stagingDir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer form.cleanup()

	in, err := s.transactionInput(form, core.Transaction{Date: time.Now().In(s.location)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.save(w, r, owner, in, http.StatusCreated)
}

// handleUpdateTransaction edits a transaction. Fields absent from the body
// keep their stored values.
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	existing, err := s.transactions.Get(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	form, err := readForm(w, r, s.stagingDir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer form.cleanup()

	in, err := s.transactionInput(form, existing)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.ID = existing.ID
	s.save(w, r, owner, in, http.StatusOK)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.transactions.Delete(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": toWalletsJSON(res.Wallets)})
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, owner string, in services.TransactionInput, status int) {
	res, err := s.transactions.Save(r.Context(), owner, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if status == http.StatusCreated {
		w.Header().Set("Location", "/transactions/"+res.Transaction.ID)
	}
	writeJSON(w, status, toReconcileJSON(res))
}

// transactionInput overlays the submitted fields on base.
func (s *Server) transactionInput(form *requestForm, base core.Transaction) (services.TransactionInput, error) {
	in := services.TransactionInput{
		WalletID:    base.WalletID,
		Kind:        base.Kind,
		Amount:      base.Amount,
		Category:    base.Category,
		Date:        base.Date,
		Description: base.Description,
		ImagePath:   form.imagePath,
		ClearImage:  parseBool(form.get("clear_image")),
	}

	var errs []error
	if form.has("wallet_id") {
		in.WalletID = form.get("wallet_id")
	}
	if form.has("type") {
		kind, err := core.ParseKind(form.get("type"))
		errs = append(errs, err)
		in.Kind = kind
	}
	if form.has("amount") {
		amount, err := core.ParseAmount(form.get("amount"))
		errs = append(errs, err)
		in.Amount = amount
	}
	if form.has("category") {
		in.Category = form.get("category")
	}
	if form.has("date") {
		date, err := parseDate(form.get("date"), s.location)
		errs = append(errs, err)
		in.Date = date
	}
	if form.has("description") {
		in.Description = form.get("description")
	}
	return in, errors.Join(errs...)
}
