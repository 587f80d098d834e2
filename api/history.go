package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/gomok/storage"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parseLimit reads the "limit" query parameter. Missing or invalid values
// fall back to defaultPageLimit; the result is capped at maxPageLimit.
func parseLimit(r *http.Request) int {
	limit := defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, maxPageLimit)
}

// ListMatches returns the most recent match records.
func (a *API) ListMatches(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		mapError(w, errHistoryDisabled)
		return
	}
	limit := parseLimit(r)
	recs, err := a.history.List(r.Context(), limit)
	if err != nil {
		mapError(w, err)
		return
	}
	if recs == nil {
		recs = []*storage.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, MatchListResponse{Matches: recs, Limit: limit})
}

// GetMatch returns one match record.
func (a *API) GetMatch(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		mapError(w, errHistoryDisabled)
		return
	}
	rec, err := a.history.Get(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
