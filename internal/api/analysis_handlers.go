package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ndemidov/roomsight/internal/analysis"
)

type startAnalysisRequest struct {
	VideoIDs []string `json:"video_ids" validate:"required,min=1,dive,required"`
	Mode     string   `json:"mode" validate:"omitempty,oneof=separate batch"`
}

type startAnalysisResponse struct {
	Units []analysis.Snapshot `json:"units"`
}

// StartAnalysisHandler kicks off analysis of staged videos for a room and
// returns the created units immediately; progress is streamed per unit.
func (app *App) StartAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	room, err := app.RoomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get room")
		return
	}
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	var req startAnalysisRequest
	if !app.decode(w, r, &req) {
		return
	}

	mode := analysis.Mode(req.Mode)
	if mode == "" {
		mode = analysis.ModeSeparate
	}

	units, err := app.Analysis.Start(r.Context(), roomID, req.VideoIDs, mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := startAnalysisResponse{Units: make([]analysis.Snapshot, 0, len(units))}
	for _, unit := range units {
		resp.Units = append(resp.Units, unit.Snapshot())
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (app *App) AnalysisStatusHandler(w http.ResponseWriter, r *http.Request) {
	unit, ok := app.Analysis.Unit(chi.URLParam(r, "unitID"))
	if !ok {
		writeError(w, http.StatusNotFound, "analysis unit not found")
		return
	}
	writeJSON(w, http.StatusOK, unit.Snapshot())
}

// AnalysisEventsHandler streams a unit's stage transitions as server-sent
// events until the unit finishes or the client disconnects.
func (app *App) AnalysisEventsHandler(w http.ResponseWriter, r *http.Request) {
	unit, ok := app.Analysis.Unit(chi.URLParam(r, "unitID"))
	if !ok {
		writeError(w, http.StatusNotFound, "analysis unit not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Push the current state first so late subscribers are not stuck waiting
	// for the next transition.
	if data, err := json.Marshal(unit.Snapshot()); err == nil {
		fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
		flusher.Flush()
	}

	clientGone := r.Context().Done()

	for {
		select {
		case update, open := <-unit.Updates:
			if !open {
				fmt.Fprintf(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			data, err := json.Marshal(update)
			if err != nil {
				log.Error().Err(err).Str("unit", unit.ID).Msg("failed to marshal update")
				continue
			}

			fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
			flusher.Flush()

		case <-clientGone:
			return
		}
	}
}

func (app *App) CancelAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	unit, ok := app.Analysis.Unit(chi.URLParam(r, "unitID"))
	if !ok {
		writeError(w, http.StatusNotFound, "analysis unit not found")
		return
	}

	unit.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
