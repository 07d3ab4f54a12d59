package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/permanence/internal/api"
	"github.com/lazypower/permanence/internal/archive"
	"github.com/lazypower/permanence/internal/permanence"
)

const (
	defaultEventLimit = 50
	maxListLimit      = 1000
)

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req api.CreateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.engine.Now()
	}

	it, err := s.engine.CreateItem(r.Context(), req.ID, req.UserID, req.Kind, createdAt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.FromItem(it))
}

func (s *Server) handleGetVisibility(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.GetVisibilityState(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	at, ok := queryTime(w, r, "at")
	if !ok {
		return
	}
	if at.IsZero() {
		at = s.engine.Now()
	}
	ex, err := s.engine.Explain(r.Context(), chi.URLParam(r, "itemID"), at)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	limit, ok := queryLimit(w, r, defaultEventLimit)
	if !ok {
		return
	}
	if _, err := s.engine.GetItem(r.Context(), itemID); err != nil {
		s.writeError(w, err)
		return
	}

	recs, err := s.engine.ListEvents(r.Context(), itemID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := api.EventsResponse{ItemID: itemID, Events: make([]api.Event, 0, len(recs))}
	for _, rec := range recs {
		resp.Events = append(resp.Events, api.FromEventRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var req api.EventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	typ, err := permanence.ParseEventType(req.Type)
	if err != nil {
		s.writeError(w, err)
		return
	}
	at := req.At
	if at.IsZero() {
		at = s.engine.Now()
	}

	metric, err := s.engine.RecordEvent(r.Context(), itemID, permanence.Event{
		Type:   typ,
		Ratio:  req.Ratio,
		Weight: req.Weight,
		At:     at,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.EventResponse{ItemID: itemID, EngagementMetric: metric})
}

func (s *Server) handleForceArchive(w http.ResponseWriter, r *http.Request) {
	var req api.AtRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	at := req.At
	if at.IsZero() {
		at = s.engine.Now()
	}

	v, err := s.engine.ForceArchive(r.Context(), chi.URLParam(r, "itemID"), at)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req api.AtRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	at := req.At
	if at.IsZero() {
		at = s.engine.Now()
	}

	report, err := s.engine.Sweep(r.Context(), at)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetSweep(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.GetSweepRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromSweepRun(*run))
}

func (s *Server) handleResumeSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.ResumeSweep(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, ok := queryLimit(w, r, archive.DefaultPageSize)
	if !ok {
		return
	}

	items, err := archive.Collect(s.engine.ListArchive(r.Context(), userID), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := api.ArchiveResponse{UserID: userID, Items: make([]api.Item, 0, len(items))}
	for _, it := range items {
		resp.Items = append(resp.Items, api.FromItem(it))
	}
	resp.Count = len(resp.Items)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := api.StatsResponse{Items: make(map[string]int, len(counts))}
	for state, n := range counts {
		resp.Items[string(state)] = n
		resp.Total += n
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses. Anything unrecognized is
// logged and reported as a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := api.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, api.Error{Error: err.Error(), Code: code})
}

func statusFor(code string) int {
	switch code {
	case api.CodeItemNotFound, api.CodeSweepNotFound:
		return http.StatusNotFound
	case api.CodeDuplicateItem, api.CodeDuplicateArchive, api.CodeInvalidTransition,
		api.CodeItemTerminal, api.CodeSweepFinished:
		return http.StatusConflict
	case api.CodeInvalidEvent, api.CodeUnknownKind, api.CodeInvalidItem, api.CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, api.Error{Error: msg, Code: api.CodeBadRequest})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body as the zero request.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid json")
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		badRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxListLimit), true
}

func queryTime(w http.ResponseWriter, r *http.Request, key string) (time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		badRequest(w, key+" must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return t, true
}
