// Package api is the HTTP surface of the fleet core. It maps the typed
// domain errors onto status codes and stable reason codes; authentication
// and tenant scoping are enforced upstream.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hostforge/fleetd/internal/capacity"
	"github.com/hostforge/fleetd/internal/fault"
	"github.com/hostforge/fleetd/internal/health"
	"github.com/hostforge/fleetd/internal/models"
	"github.com/hostforge/fleetd/internal/registry"
)

type Handler struct {
	nodes        *registry.Registry
	reservations *capacity.Service
	heartbeats   *health.Service
	log          *zap.Logger
}

func NewHandler(nodes *registry.Registry, reservations *capacity.Service, heartbeats *health.Service, log *zap.Logger) http.Handler {
	h := &Handler{nodes: nodes, reservations: reservations, heartbeats: heartbeats, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	mux.HandleFunc("POST /v1/nodes", h.handleCreateNode)
	mux.HandleFunc("GET /v1/nodes", h.handleListNodes)
	mux.HandleFunc("GET /v1/nodes/{id}", h.handleGetNode)
	mux.HandleFunc("PATCH /v1/nodes/{id}/name", h.handleRenameNode)
	mux.HandleFunc("POST /v1/nodes/{id}/maintenance", h.handleEnterMaintenance)
	mux.HandleFunc("DELETE /v1/nodes/{id}/maintenance", h.handleExitMaintenance)
	mux.HandleFunc("POST /v1/nodes/{id}/decommission", h.handleDecommission)
	mux.HandleFunc("POST /v1/nodes/{id}/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("GET /v1/nodes/{id}/reservations", h.handleListReservations)

	mux.HandleFunc("POST /v1/reservations", h.handleCreateReservation)
	mux.HandleFunc("GET /v1/reservations/{token}", h.handleGetReservation)
	mux.HandleFunc("POST /v1/reservations/{token}/claim", h.handleClaim)
	mux.HandleFunc("POST /v1/reservations/{token}/release", h.handleRelease)
	mux.HandleFunc("POST /v1/reservations/{token}/release-allocation", h.handleReleaseAllocation)

	return mux
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string           `json:"tenant_id"`
		Name     string           `json:"name"`
		Platform string           `json:"platform"`
		Capacity models.Resources `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON payload")
		return
	}
	if req.TenantID == "" || req.Name == "" {
		writeBadRequest(w, "tenant_id and name required")
		return
	}
	n, err := h.nodes.Create(r.Context(), registry.CreateParams{
		TenantID: req.TenantID,
		Name:     req.Name,
		Platform: req.Platform,
		Capacity: req.Capacity,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.nodes.List(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (h *Handler) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := h.nodes.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) handleRenameNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeBadRequest(w, "name required")
		return
	}
	n, err := h.nodes.Rename(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) handleEnterMaintenance(w http.ResponseWriter, r *http.Request) {
	if err := h.nodes.EnterMaintenance(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.NodeMaintenance)})
}

func (h *Handler) handleExitMaintenance(w http.ResponseWriter, r *http.Request) {
	if err := h.nodes.ExitMaintenance(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.NodeOffline)})
}

func (h *Handler) handleDecommission(w http.ResponseWriter, r *http.Request) {
	if err := h.nodes.Decommission(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.NodeDecommissioned)})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timestamp    time.Time `json:"timestamp"`
		CPUPercent   float64   `json:"cpu_percent"`
		MemPercent   float64   `json:"mem_percent"`
		DiskPercent  float64   `json:"disk_percent"`
		ProcessCount int       `json:"process_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON payload")
		return
	}
	n, err := h.heartbeats.RecordHeartbeat(r.Context(), models.HeartbeatSample{
		NodeID:       r.PathValue("id"),
		Timestamp:    req.Timestamp,
		CPUPercent:   req.CPUPercent,
		MemPercent:   req.MemPercent,
		DiskPercent:  req.DiskPercent,
		ProcessCount: req.ProcessCount,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          n.Status,
		"health_score":    n.HealthScore,
		"health_category": n.HealthCategory,
		"health_trend":    n.HealthTrend,
	})
}

func (h *Handler) handleListReservations(w http.ResponseWriter, r *http.Request) {
	resvs, err := h.reservations.ListForNode(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": resvs})
}

func (h *Handler) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID     string           `json:"node_id"`
		Requested  models.Resources `json:"requested"`
		TTLSeconds int64            `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON payload")
		return
	}
	if req.NodeID == "" {
		writeBadRequest(w, "node_id required")
		return
	}
	resv, err := h.reservations.Create(r.Context(), req.NodeID, req.Requested, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resv)
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	resv, err := h.reservations.Get(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resv)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	resv, err := h.reservations.Claim(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resv)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.reservations.Release(r.Context(), r.PathValue("token"), req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(models.ReservationReleased)})
}

func (h *Handler) handleReleaseAllocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.reservations.ReleaseAllocation(r.Context(), r.PathValue("token"), req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(models.ReservationReleased)})
}

// writeError maps domain error kinds to HTTP status codes; anything not a
// domain error is an infrastructure fault and surfaces as a 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		h.log.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errBody("Internal", "internal error"))
		return
	}
	status := http.StatusInternalServerError
	switch fe.Kind {
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict, fault.KindResourceExhausted:
		status = http.StatusConflict
	case fault.KindPreconditionFailed:
		status = http.StatusPreconditionFailed
	case fault.KindExpired:
		status = http.StatusGone
	}
	writeJSON(w, status, errBody(string(fe.Code), fe.Message))
}

func errBody(code, msg string) map[string]any {
	return map[string]any{"error": map[string]string{"code": code, "message": msg}}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errBody("BadRequest", msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
