package api

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wandform/backend/internal/config"
	"github.com/wandform/backend/internal/metrics"
	"github.com/wandform/backend/internal/room"
	"github.com/wandform/backend/internal/store"
	"github.com/wandform/backend/internal/ws"
)

type API struct {
	manager *room.Manager
	store   *store.Store
	cfg     *config.Config
}

func New(manager *room.Manager, st *store.Store, cfg *config.Config) *API {
	return &API{
		manager: manager,
		store:   st,
		cfg:     cfg,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_rooms":    a.manager.ActiveRooms(),
		"active_sessions": a.manager.ActiveSessions(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if dbStats, err := a.store.Stats(); err == nil {
		stats["total_forms"] = dbStats["form_count"]
		stats["total_updates"] = dbStats["update_count"]
		stats["total_submissions"] = dbStats["submission_count"]
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Realtime handlers

// RealtimeRouter dispatches /api/realtime/{formID} (websocket upgrade) and
// /api/realtime/{formID}/history (plain GET).
func (a *API) RealtimeRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/realtime/")
	path = strings.TrimSuffix(path, "/")

	if formID, ok := strings.CutSuffix(path, "/history"); ok {
		a.HistoryHandler(w, r, formID)
		return
	}

	if path == "" || strings.Contains(path, "/") {
		errorResponse(w, http.StatusNotFound, "Not found")
		return
	}

	ws.ServeWS(a.manager, a.cfg.Realtime, path, w, r)
}

// HistoryHandler serves a bounded page of the form's update log, newest
// first. It reads the store directly and never touches room state.
func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request, formID string) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if formID == "" {
		errorResponse(w, http.StatusBadRequest, "Form ID is required")
		return
	}

	limit := store.ClampLimit(
		r.URL.Query().Get("limit"),
		a.cfg.Realtime.HistoryDefault,
		a.cfg.Realtime.HistoryMax,
	)

	updates, err := a.store.RecentUpdates(formID, limit)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	metrics.HistoryQueries.Inc()

	jsonResponse(w, http.StatusOK, map[string]any{"updates": updates})
}

// Form handlers

type formSchema struct {
	Fields []json.RawMessage `json:"fields"`
}

type createFormRequest struct {
	Name   string     `json:"name"`
	Schema formSchema `json:"schema"`
}

type formResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Schema    any    `json:"schema,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func slugify(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

func (a *API) ListFormsHandler(w http.ResponseWriter, r *http.Request) {
	forms, err := a.store.ListForms(100)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list forms")
		return
	}

	response := make([]formResponse, len(forms))
	for i, f := range forms {
		response[i] = formResponse{ID: f.ID, Name: f.Name, CreatedAt: f.CreatedAt}
	}

	jsonResponse(w, http.StatusOK, map[string]any{"forms": response})
}

func (a *API) CreateFormHandler(w http.ResponseWriter, r *http.Request) {
	var req createFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "Invalid body. Expected {name, schema:{fields:[]}}")
		return
	}

	if len(req.Schema.Fields) == 0 {
		errorResponse(w, http.StatusBadRequest, "schema.fields must be a non-empty array")
		return
	}

	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid schema")
		return
	}

	id := uuid.NewString()
	name := strings.TrimSpace(req.Name)
	if err := a.store.CreateForm(id, name, slugify(name), string(schemaJSON)); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create form")
		return
	}

	jsonResponse(w, http.StatusCreated, map[string]any{
		"form": formResponse{ID: id, Name: name, Schema: req.Schema},
	})
}

func (a *API) GetFormHandler(w http.ResponseWriter, r *http.Request, formID string) {
	form, err := a.store.GetForm(formID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get form")
		return
	}
	if form == nil {
		errorResponse(w, http.StatusNotFound, "Form not found")
		return
	}

	var schema any
	if err := json.Unmarshal([]byte(form.SchemaJSON), &schema); err != nil {
		schema = form.SchemaJSON
	}

	jsonResponse(w, http.StatusOK, formResponse{
		ID:        form.ID,
		Name:      form.Name,
		Schema:    schema,
		CreatedAt: form.CreatedAt,
	})
}

// Submission handlers

type submissionRequest struct {
	Data map[string]any `json:"data"`
}

func (a *API) CreateSubmissionHandler(w http.ResponseWriter, r *http.Request, formID string) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Data == nil {
		a.logEvent(formID, "submit_error", "", map[string]any{"reason": "invalid_body"})
		errorResponse(w, http.StatusBadRequest, "Invalid body. Expected {data:{...}}")
		return
	}

	form, err := a.store.GetForm(formID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get form")
		return
	}
	if form == nil {
		a.logEvent(formID, "submit_error", "", map[string]any{"reason": "form_not_found"})
		errorResponse(w, http.StatusNotFound, "Form not found")
		return
	}

	dataJSON, err := json.Marshal(req.Data)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid submission data")
		return
	}

	metadata, _ := json.Marshal(map[string]string{
		"ua": r.Header.Get("User-Agent"),
		"ip": r.RemoteAddr,
	})

	id := uuid.NewString()
	if err := a.store.CreateSubmission(id, formID, string(dataJSON), string(metadata)); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to save submission")
		return
	}

	a.logEvent(formID, "complete", "", map[string]any{"submissionId": id})

	jsonResponse(w, http.StatusCreated, map[string]any{"ok": true, "id": id})
}

func (a *API) ListSubmissionsHandler(w http.ResponseWriter, r *http.Request, formID string) {
	limit := store.ClampLimit(r.URL.Query().Get("limit"), 50, 200)

	subs, err := a.store.ListSubmissions(formID, limit)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list submissions")
		return
	}

	response := make([]map[string]any, len(subs))
	for i, sub := range subs {
		var data any
		if err := json.Unmarshal([]byte(sub.DataJSON), &data); err != nil {
			data = sub.DataJSON
		}
		var metadata any
		if sub.MetadataJSON != "" {
			if err := json.Unmarshal([]byte(sub.MetadataJSON), &metadata); err != nil {
				metadata = sub.MetadataJSON
			}
		}
		response[i] = map[string]any{
			"id":        sub.ID,
			"data":      data,
			"metadata":  metadata,
			"createdAt": sub.CreatedAt,
		}
	}

	jsonResponse(w, http.StatusOK, map[string]any{"submissions": response})
}

// Analytics handlers

var allowedEventTypes = map[string]bool{
	"view":         true,
	"start":        true,
	"complete":     true,
	"submit_error": true,
	"field_focus":  true,
}

type formEventRequest struct {
	Type     string         `json:"type"`
	FieldID  string         `json:"fieldId"`
	Metadata map[string]any `json:"metadata"`
}

func (a *API) logEvent(formID, eventType, fieldID string, metadata map[string]any) {
	metadataJSON := ""
	if metadata != nil {
		if encoded, err := json.Marshal(metadata); err == nil {
			metadataJSON = string(encoded)
		}
	}
	if err := a.store.LogFormEvent(uuid.NewString(), formID, eventType, fieldID, metadataJSON); err != nil {
		log.Printf("Failed to log %s event for form %s: %v", eventType, formID, err)
	}
}

func (a *API) CreateEventHandler(w http.ResponseWriter, r *http.Request, formID string) {
	var req formEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !allowedEventTypes[req.Type] {
		errorResponse(w, http.StatusBadRequest, "Invalid event type")
		return
	}

	form, err := a.store.GetForm(formID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get form")
		return
	}
	if form == nil {
		errorResponse(w, http.StatusNotFound, "Form not found")
		return
	}

	if len(req.FieldID) > 128 {
		req.FieldID = req.FieldID[:128]
	}

	a.logEvent(formID, req.Type, req.FieldID, req.Metadata)
	jsonResponse(w, http.StatusCreated, map[string]any{"ok": true})
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func (a *API) AnalyticsHandler(w http.ResponseWriter, r *http.Request, formID string) {
	form, err := a.store.GetForm(formID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get form")
		return
	}
	if form == nil {
		errorResponse(w, http.StatusNotFound, "Form not found")
		return
	}

	counts, err := a.store.EventCounts(formID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to read analytics")
		return
	}

	views := counts["view"]
	starts := counts["start"]
	completes := counts["complete"]

	conversion := map[string]float64{
		"startRate":                0,
		"completionRateFromViews":  0,
		"completionRateFromStarts": 0,
	}
	if views > 0 {
		conversion["startRate"] = round4(float64(starts) / float64(views))
		conversion["completionRateFromViews"] = round4(float64(completes) / float64(views))
	}
	if starts > 0 {
		conversion["completionRateFromStarts"] = round4(float64(completes) / float64(starts))
	}

	topFields, err := a.store.TopFocusedFields(formID, 10)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to read analytics")
		return
	}
	if topFields == nil {
		topFields = []store.FieldFocus{}
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"counts": map[string]int{
			"views":        views,
			"starts":       starts,
			"completes":    completes,
			"submitErrors": counts["submit_error"],
		},
		"conversion":       conversion,
		"topFocusedFields": topFields,
	})
}

// FormsRouter dispatches /api/forms and its sub-resources.
func (a *API) FormsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/forms")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			a.ListFormsHandler(w, r)
		case http.MethodPost:
			a.CreateFormHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	formID, sub, _ := strings.Cut(path, "/")

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.GetFormHandler(w, r, formID)
	case "submissions":
		switch r.Method {
		case http.MethodGet:
			a.ListSubmissionsHandler(w, r, formID)
		case http.MethodPost:
			a.CreateSubmissionHandler(w, r, formID)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case "events":
		if r.Method != http.MethodPost {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.CreateEventHandler(w, r, formID)
	case "analytics":
		if r.Method != http.MethodGet {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.AnalyticsHandler(w, r, formID)
	default:
		errorResponse(w, http.StatusNotFound, "Not found")
	}
}
