// Package handlers implements the gateway's HTTP surface: submitting
// tasks, reading a task's current record, and admin introspection over
// a Pool's Workers.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/riftborne/treequeue/internal/logger"
	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/rtdb"
)

// TaskHandler serves the task submission/read/cancel/list endpoints
// against one tasks node.
type TaskHandler struct {
	store *rtdb.Store
	spec  record.Spec
}

// NewTaskHandler builds a TaskHandler. spec is the same Spec the
// gateway's Pool(s) were constructed with, so Create pushes a task in
// the state Workers actually listen for.
func NewTaskHandler(store *rtdb.Store, spec record.Spec) *TaskHandler {
	return &TaskHandler{store: store, spec: spec}
}

// CreateRequest is the body of POST /api/v1/tasks: arbitrary
// user-defined fields alongside the task, merged into the pushed
// record. Reserved (_-prefixed) fields are rejected — Create itself
// sets _state, and the worker's transactions write the rest.
type CreateRequest struct {
	Fields map[string]interface{} `json:"fields"`
}

// CreateResponse is returned from a successful Create.
type CreateResponse struct {
	ID string `json:"id"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Create handles POST /api/v1/tasks: pushes a new task record in
// spec.StartState.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	rec := record.Record{}
	for k, v := range req.Fields {
		if len(k) > 0 && k[0] == '_' {
			h.respondError(w, http.StatusBadRequest, "fields beginning with _ are reserved")
			return
		}
		rec[k] = v
	}
	if h.spec.StartState != nil {
		rec[record.FieldState] = *h.spec.StartState
	}

	child, err := h.store.Root().Push(r.Context(), rec)
	if err != nil {
		logger.Error().Err(err).Msg("failed to push task")
		h.respondError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	logger.Info().Str("task_id", child.Key()).Msg("task created")
	h.respondJSON(w, http.StatusCreated, CreateResponse{ID: child.Key()})
}

// Get handles GET /api/v1/tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	snap, err := h.store.Root().Child(taskID).Once(r.Context(), "value")
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to read task")
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	if !snap.Exists() {
		h.respondError(w, http.StatusNotFound, "task not found")
		return
	}

	rec, _ := record.IsMapping(snap.Val())
	h.respondJSON(w, http.StatusOK, rec)
}

// Cancel handles DELETE /api/v1/tasks/{taskID}. Only a task still in
// the start state can be cancelled this way — once claimed, the
// owning Worker is the only thing allowed to move it out of
// InProgressState, so Cancel removes under a Claim-shaped guard
// instead of unconditionally deleting.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	ref := h.store.Root().Child(taskID)
	res, err := ref.Transaction(r.Context(), func(current any) record.Outcome {
		if current == nil {
			return record.Outcome{Kind: record.Abort}
		}
		rec, ok := record.IsMapping(current)
		if !ok || !h.spec.MatchesStart(rec) {
			return record.Outcome{Kind: record.Abort}
		}
		return record.Outcome{Kind: record.Remove}
	})
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to cancel task")
		h.respondError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	if !res.Committed {
		h.respondError(w, http.StatusConflict, "task cannot be cancelled in its current state")
		return
	}

	logger.Info().Str("task_id", taskID).Msg("task cancelled")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"id": taskID, "cancelled": true})
}

// ListResponse is the body of GET /api/v1/tasks.
type ListResponse struct {
	Tasks []record.Record `json:"tasks"`
	Count int             `json:"count"`
}

// List handles GET /api/v1/tasks?state=&limit=: a one-shot read of
// tasks currently in the requested state (defaulting to spec's
// StartState), via rtdb.Store.ListByState.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		if h.spec.StartState == nil {
			h.respondError(w, http.StatusBadRequest, "state query parameter is required when the pool's startState is absent")
			return
		}
		state = *h.spec.StartState
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	tasks, err := h.store.ListByState(r.Context(), state, limit)
	if err != nil {
		logger.Error().Err(err).Str("state", state).Msg("failed to list tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	h.respondJSON(w, http.StatusOK, ListResponse{Tasks: tasks, Count: len(tasks)})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}
