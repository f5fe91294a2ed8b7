package runtime

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-dub/internal/eventstore"
)

type runView struct {
	Run    eventstore.Run     `json:"run"`
	Events []eventstore.Event `json:"events"`
}

// handleRun serves the recorded timeline of one run.
func (r *Runtime) handleRun(w http.ResponseWriter, req *http.Request) {
	if r.events == nil {
		http.Error(w, "event store unavailable", http.StatusServiceUnavailable)
		return
	}
	runID := req.PathValue("id")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	run, err := r.events.GetRun(req.Context(), runID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		r.logger.Warn("failed to load run", slog.String("run_id", runID), slogError(err))
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	events, err := r.events.ListRunEvents(req.Context(), runID, limit)
	if err != nil {
		r.logger.Warn("failed to load run events", slog.String("run_id", runID), slogError(err))
		http.Error(w, "failed to load run events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(runView{Run: run, Events: events})
}
