package http

import (
	"net/http"

	"dompet/internal/services"
)

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wallets, err := s.wallets.List(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": toWalletsJSON(wallets)})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wallet, err := s.wallets.Get(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletJSON(wallet))
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
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

	wallet, err := s.wallets.Create(r.Context(), owner, form.get("name"), form.imagePath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/wallets/"+wallet.ID)
	writeJSON(w, http.StatusCreated, toWalletJSON(wallet))
}

// handleUpdateWallet changes name and image. Absent fields are left alone;
// "clear_image": true removes the image.
func (s *Server) handleUpdateWallet(w http.ResponseWriter, r *http.Request) {
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

	profile := services.WalletProfile{
		ImagePath:  form.imagePath,
		ClearImage: parseBool(form.get("clear_image")),
	}
	if form.has("name") {
		name := form.get("name")
		profile.Name = &name
	}

	wallet, err := s.wallets.UpdateProfile(r.Context(), owner, r.PathValue("id"), profile)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletJSON(wallet))
}

// handleDeleteWallet removes the wallet together with its transactions.
func (s *Server) handleDeleteWallet(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.wallets.Delete(r.Context(), owner, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
