package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/alien88ted/presale-monitor/service/presale"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxCursorLength  = 90 // base58 signatures run 86-88 chars
)

// Base58 alphabet (no 0, O, I, l).
var validCursorRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// handleGetMetrics returns the aggregate snapshot.
// GET /api/v1/metrics?refresh=true
func handleGetMetrics(agg Aggregator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forceRefresh := r.URL.Query().Get("refresh") == "true"

		result, err := agg.GetMetrics(r.Context(), forceRefresh)
		if err != nil {
			logger.Error("failed to get metrics", "error", err)
			writeError(w, "metrics temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		if result.Stale {
			w.Header().Set("Warning", `110 - "response is stale"`)
		}
		writeJSON(w, result, http.StatusOK)
	})
}

// transactionsResponse pairs a page of transactions with its cursor.
type transactionsResponse struct {
	Transactions []*presale.Transaction `json:"transactions"`
	Count        int                    `json:"count"`
	NextBefore   string                 `json:"next_before,omitempty"`
}

// handleListTransactions returns classified transactions newest first.
// GET /api/v1/transactions?limit={n}&before={signature}
func handleListTransactions(agg Aggregator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		before := r.URL.Query().Get("before")
		if before != "" && !validCursor(before) {
			writeError(w, "invalid before cursor", http.StatusBadRequest)
			return
		}

		txs, err := agg.ListTransactions(r.Context(), limit, before)
		if err != nil {
			logger.Error("failed to list transactions", "limit", limit, "before", before, "error", err)
			writeError(w, "transactions temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		resp := transactionsResponse{
			Transactions: txs,
			Count:        len(txs),
		}
		// A full page means there may be older history behind it.
		if len(txs) == limit {
			resp.NextBefore = txs[len(txs)-1].Signature
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// contributorsResponse is the leaderboard payload.
type contributorsResponse struct {
	Contributors []presale.Contributor `json:"contributors"`
	Count        int                   `json:"count"`
	MinUSD       float64               `json:"min_usd"`
}

// handleListContributors returns the contributor leaderboard.
// GET /api/v1/contributors?min_usd={n}&limit={n}
func handleListContributors(agg Aggregator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		minUSD := 0.0
		if raw := r.URL.Query().Get("min_usd"); raw != "" {
			minUSD, err = strconv.ParseFloat(raw, 64)
			if err != nil || minUSD < 0 {
				writeError(w, "min_usd must be a non-negative number", http.StatusBadRequest)
				return
			}
		}

		contributors, err := agg.TopContributors(r.Context(), minUSD, limit)
		if err != nil {
			logger.Error("failed to list contributors", "min_usd", minUSD, "error", err)
			writeError(w, "contributors temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, contributorsResponse{
			Contributors: contributors,
			Count:        len(contributors),
			MinUSD:       minUSD,
		}, http.StatusOK)
	})
}

// handleDiagnostics returns the full diagnostics report.
// GET /api/v1/diagnostics
func handleDiagnostics(d Diagnoser, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Report(r.Context()), http.StatusOK)
	})
}

// handleHealth serves liveness/readiness. 200 unless no fresh data can
// be served at all.
// GET /health
func handleHealth(d Diagnoser) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := d.HealthCheck(r.Context())
		status := http.StatusOK
		if h.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, h, status)
	})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		return 0, errLimit
	}
	return limit, nil
}

var errLimit = &limitError{}

type limitError struct{}

func (e *limitError) Error() string {
	return "limit must be an integer between 1 and 1000"
}

func validCursor(cursor string) bool {
	return len(cursor) <= maxCursorLength && validCursorRegex.MatchString(cursor)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
