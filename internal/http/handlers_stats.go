package http

import (
	"net/http"

	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/services"
	"dompet/internal/stats"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	period, err := stats.ParsePeriod(r.PathValue("period"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.stats.Report(r.Context(), owner, period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.DebugContext(r.Context(), "Stats served",
		log.FieldOwnerID, owner,
		log.FieldPeriod, period.String(),
		"buckets", len(report.Buckets))
	writeJSON(w, http.StatusOK, toReportJSON(report))
}

// handleSummary returns wallet totals plus the most recent transactions.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
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
	home, err := s.wallets.Home(r.Context(), owner, min(limit, services.MaxRecentLimit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHomeJSON(home))
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats := core.Categories()
	out := make([]categoryOptionJSON, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryOptionJSON{Key: c.Key, Label: c.Label})
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}
