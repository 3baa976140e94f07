package reportapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBatchLimit = 50
	maxBatchLimit     = 500
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Server is up!")
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rep, err := s.engine.Report(r.Context())
	if err != nil {
		s.fail(w, "Failed to build report", err)
		return
	}
	addServerTiming(w, "validate", time.Since(start))
	writeJSON(w, rep)
}

func (s *Server) reportText(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rep, err := s.engine.Report(r.Context())
	if err != nil {
		s.fail(w, "Failed to build report", err)
		return
	}
	addServerTiming(w, "validate", time.Since(start))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := rep.WriteText(w); err != nil {
		s.log.Warn("Failed to write report", zap.Error(err))
	}
}

func (s *Server) integrity(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Integrity(r.Context())
	if err != nil {
		s.fail(w, "Failed to run integrity checks", err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) duplicates(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Duplicates(r.Context())
	if err != nil {
		s.fail(w, "Failed to scan for duplicates", err)
		return
	}
	if res == nil {
		res = []archive.LabCodeGroup{}
	}
	writeJSON(w, res)
}

func (s *Server) counts(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.VerifyCounts(r.Context())
	if err != nil {
		s.fail(w, "Failed to verify record counts", err)
		return
	}
	writeJSON(w, res)
}

// listBatches returns the most recent batches first; ?limit= caps the list.
func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultBatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxBatchLimit)
	}
	batches, err := s.batches.ListBatches(r.Context(), limit)
	if err != nil {
		s.fail(w, "Failed to list import batches", err)
		return
	}
	if batches == nil {
		batches = []archive.ImportBatch{}
	}
	writeJSON(w, batches)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid batch id", http.StatusBadRequest)
		return
	}
	b, err := s.batches.GetBatch(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		http.Error(w, "Import batch not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, "Failed to fetch import batch", err)
		return
	}
	writeJSON(w, b)
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func addServerTiming(w http.ResponseWriter, name string, d time.Duration) {
	w.Header().Add("Server-Timing", fmt.Sprintf("%s;dur=%.1f", name, float64(d.Microseconds())/1000))
}
