package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/riftborne/treequeue/internal/gateway/middleware"
	"github.com/riftborne/treequeue/internal/logger"
	"github.com/riftborne/treequeue/internal/pool"
	"github.com/riftborne/treequeue/internal/rtdb"
)

// AdminHandler serves worker/pool introspection and a health probe.
// Unlike TaskHandler it is not scoped to one Pool: a gateway process
// usually fronts several, each registered under its queue id.
type AdminHandler struct {
	store *rtdb.Store
	pools map[string]*pool.Pool
}

// NewAdminHandler builds an AdminHandler over the given pools, keyed
// by pool.ID().
func NewAdminHandler(store *rtdb.Store, pools ...*pool.Pool) *AdminHandler {
	byID := make(map[string]*pool.Pool, len(pools))
	for _, p := range pools {
		byID[p.ID()] = p
	}
	return &AdminHandler{store: store, pools: byID}
}

// WorkerInfo is the JSON projection of a worker.Worker for admin
// listing — OwnerID and the control-flow State, nothing about its
// in-flight task (the Worker doesn't expose that, by design of
// spec.md's actor boundary).
type WorkerInfo struct {
	QueueID string `json:"queue_id"`
	OwnerID string `json:"owner_id"`
	State   string `json:"state"`
}

// ListWorkers handles GET /admin/workers, scoped to the queues the
// caller's Claims (if any) permit — see Claims.CanAccessQueue.
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUser(r.Context())
	var out []WorkerInfo
	for queueID, p := range h.pools {
		if !claims.CanAccessQueue(queueID) {
			continue
		}
		for _, wk := range p.Workers() {
			out = append(out, WorkerInfo{QueueID: queueID, OwnerID: wk.OwnerID(), State: wk.State().String()})
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"workers": out, "count": len(out)})
}

// GetWorker handles GET /admin/workers/{ownerID}.
func (h *AdminHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if ownerID == "" {
		h.respondError(w, http.StatusBadRequest, "owner ID is required")
		return
	}

	claims := middleware.GetUser(r.Context())
	for queueID, p := range h.pools {
		if !claims.CanAccessQueue(queueID) {
			continue
		}
		for _, wk := range p.Workers() {
			if wk.OwnerID() == ownerID {
				h.respondJSON(w, http.StatusOK, WorkerInfo{QueueID: queueID, OwnerID: wk.OwnerID(), State: wk.State().String()})
				return
			}
		}
	}
	h.respondError(w, http.StatusNotFound, "worker not found")
}

// GetPools handles GET /admin/pools, scoped the same way as
// ListWorkers.
func (h *AdminHandler) GetPools(w http.ResponseWriter, r *http.Request) {
	type poolInfo struct {
		QueueID string `json:"queue_id"`
		Workers int    `json:"workers"`
	}
	claims := middleware.GetUser(r.Context())
	out := make([]poolInfo, 0, len(h.pools))
	for queueID, p := range h.pools {
		if !claims.CanAccessQueue(queueID) {
			continue
		}
		out = append(out, poolInfo{QueueID: queueID, Workers: len(p.Workers())})
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"pools": out})
}

// TasksByState handles GET /admin/tasks?state=.
func (h *AdminHandler) TasksByState(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		h.respondError(w, http.StatusBadRequest, "state query parameter is required")
		return
	}
	tasks, err := h.store.ListByState(r.Context(), state, 500)
	if err != nil {
		logger.Error().Err(err).Str("state", state).Msg("failed to list tasks by state")
		h.respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks, "count": len(tasks)})
}

// HealthCheck handles GET /admin/health.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"store":  "disconnected",
			"error":  err.Error(),
		})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "store": "connected"})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}
