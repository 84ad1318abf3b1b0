package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/assessly/pkg/httputil"
)

// Handlers provides HTTP handlers for the audit trail API
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers the audit routes, each wrapped by guard
func (h *Handlers) RegisterRoutes(router *mux.Router, guard func(http.Handler) http.Handler) {
	router.Handle("/audit/events", guard(http.HandlerFunc(h.listEvents))).Methods(http.MethodGet)
	router.Handle("/audit/events/{id}", guard(http.HandlerFunc(h.getEvent))).Methods(http.MethodGet)
	router.Handle("/audit/stats", guard(http.HandlerFunc(h.getStats))).Methods(http.MethodGet)
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter = filter.normalize()

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEvent handles GET /audit/events/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrEventNotFound) {
		httputil.WriteNotFoundError(w, "event not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, event)
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	startTime, err := parseTimeParam(r, "start_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	endTime, err := parseTimeParam(r, "end_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.store.GetStats(r.Context(), startTime, endTime)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// parseFilter parses a search filter from query parameters
func parseFilter(r *http.Request) (SearchFilter, error) {
	query := r.URL.Query()
	filter := SearchFilter{
		EventType:    EventType(query.Get("event_type")),
		Status:       EventStatus(query.Get("status")),
		ActorID:      query.Get("actor_id"),
		SubjectID:    query.Get("subject_id"),
		PermissionID: query.Get("permission_id"),
	}

	var err error
	if filter.StartTime, err = parseTimeParam(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTimeParam(r, "end_time"); err != nil {
		return filter, err
	}

	if filter.Limit, err = parseIntParam(r, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseIntParam(r, "offset"); err != nil {
		return filter, err
	}

	return filter, nil
}

func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339", key)
	}
	return &t, nil
}

func parseIntParam(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: expected a non-negative integer", key)
	}
	return n, nil
}
