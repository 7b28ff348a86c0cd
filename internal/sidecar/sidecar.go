// Package sidecar exposes the engine's CLI/chat surface and host event
// contract over HTTP, so a Minecraft server plugin written in any language
// can drive the search engine as a local sidecar process.
package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"kitsune/internal/containerindexer"
	"kitsune/internal/engine"
	"kitsune/internal/model"
)

// Sidecar wires HTTP handlers to the engine.
type Sidecar struct {
	router http.Handler
	eng    *engine.Engine
	snap   containerindexer.Snapshotter
}

// New constructs a Sidecar. snap lets `admin reindex` re-pull a container's
// current contents from the host; it may be nil if the host never exposes
// that capability, in which case reindex requests fail client-input.
func New(eng *engine.Engine, snap containerindexer.Snapshotter) *Sidecar {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s := &Sidecar{router: mux, eng: eng, snap: snap}

	mux.Get("/api/health", s.handleHealth)

	mux.Post("/v1/command/find", s.handleFind)
	mux.Post("/v1/command/admin/reload", s.handleAdminReload)
	mux.Get("/v1/command/admin/stats", s.handleAdminStats)
	mux.Get("/v1/command/admin/logs", s.handleAdminLogs)
	mux.Post("/v1/command/admin/reindex", s.handleAdminReindex)
	mux.Post("/v1/command/admin/purge", s.handleAdminPurge)
	mux.Post("/v1/command/admin/threshold", s.handleAdminThreshold)
	mux.Get("/v1/command/history", s.handleHistory)
	mux.Post("/v1/command/history/clear", s.handleHistoryClear)

	mux.Post("/v1/events/container-open", s.handleContainerOpen)
	mux.Post("/v1/events/container-close", s.handleContainerClose)
	mux.Post("/v1/events/block-break", s.handleBlockBreak)
	mux.Post("/v1/events/block-place", s.handleBlockPlace)
	mux.Post("/v1/events/item-transfer", s.handleItemTransfer)

	return s
}

// ServeHTTP exposes the router so Sidecar satisfies http.Handler.
func (s *Sidecar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Sidecar) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type findRequest struct {
	Player string          `json:"player"`
	Query  string          `json:"query"`
	Limit  int             `json:"limit"`
	Radius int             `json:"radius"`
	Center *model.Position `json:"center"`
}

func (s *Sidecar) handleFind(w http.ResponseWriter, r *http.Request) {
	var req findRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if req.Radius > 0 && req.Center != nil {
		results, err := s.eng.FindWithinRadius(req.Player, req.Query, req.Limit, *req.Center, req.Radius)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	results, err := s.eng.Find(req.Player, req.Query, req.Limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Sidecar) handleAdminReload(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.AdminReload(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Sidecar) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.eng.AdminStats()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Sidecar) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	entries, err := s.eng.AdminLogs(limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type reindexRequest struct {
	Center model.Position `json:"center"`
	Radius int            `json:"radius"`
}

func (s *Sidecar) handleAdminReindex(w http.ResponseWriter, r *http.Request) {
	if s.snap == nil {
		writeError(w, http.StatusBadRequest, errors.New("host does not support container snapshots"))
		return
	}
	var req reindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.eng.AdminReindex(req.Center, req.Radius, s.snap); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

func (s *Sidecar) handleAdminPurge(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.AdminPurge(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

type thresholdRequest struct {
	Value *float64 `json:"value"`
}

func (s *Sidecar) handleAdminThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}
	value, err := s.eng.AdminThreshold(req.Value)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"threshold": value})
}

func (s *Sidecar) handleHistory(w http.ResponseWriter, r *http.Request) {
	player := r.URL.Query().Get("player")
	limit := 20
	entries, err := s.eng.History(player, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Sidecar) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player string `json:"player"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.eng.HistoryClear(req.Player); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type containerEventRequest struct {
	Player  string            `json:"player"`
	Primary model.Position    `json:"primary"`
	Items   []model.ItemStack `json:"items"`
}

func (s *Sidecar) handleContainerOpen(w http.ResponseWriter, r *http.Request) {
	var req containerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	s.eng.OnContainerOpen(req.Player, req.Primary, req.Items)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Sidecar) handleContainerClose(w http.ResponseWriter, r *http.Request) {
	var req containerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	s.eng.OnContainerClose(req.Player, req.Primary, req.Items)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Sidecar) handleBlockBreak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location model.Position `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.eng.OnBlockBreak(req.Location); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Sidecar) handleBlockPlace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location  model.Position   `json:"location"`
		Adjacent  []model.Position `json:"adjacent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.eng.OnBlockPlace(req.Location, req.Adjacent); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Sidecar) handleItemTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source      model.Position    `json:"source"`
		Dest        model.Position    `json:"dest"`
		SourceItems []model.ItemStack `json:"source_items"`
		DestItems   []model.ItemStack `json:"dest_items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	s.eng.OnItemTransfer(req.Source, req.Dest, req.SourceItems, req.DestItems)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Printf("sidecar: failed to write JSON response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// writeEngineError maps an engine error kind to an HTTP status: client
// input is user-correctable (400), provider-mismatch is a conflict (409),
// shutdown-in-progress is retryable (503), everything else is a
// server-side failure.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrClientInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, engine.ErrProviderMismatch):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, engine.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
