package sidecar

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"kitsune/internal/config"
	"kitsune/internal/engine"
	"kitsune/internal/model"
)

func newTestSidecar(t *testing.T) *Sidecar {
	t.Helper()
	dir := t.TempDir()

	cm, err := config.NewConfigManager(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("new config manager: %v", err)
	}
	if err := cm.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}
	updates := map[string]interface{}{
		"storage.db_path":       filepath.Join(dir, "metadata.db"),
		"storage.graph_path":    filepath.Join(dir, "vectors.idx"),
		"indexing.debounce_ms":  60000,
		"embedding.provider":    "test",
		"embedding.model_name":  "test-model",
	}
	if err := cm.Update(updates); err != nil {
		t.Fatalf("update config: %v", err)
	}

	eng, err := engine.New(cm)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Shutdown)

	return New(eng, nil)
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestSidecar(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleAdminThreshold_SetAndGet(t *testing.T) {
	s := newTestSidecar(t)

	body, _ := json.Marshal(thresholdRequest{Value: floatPtr(0.6)})
	req := httptest.NewRequest(http.MethodPost, "/v1/command/admin/threshold", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var out map[string]float64
	decodeJSON(t, rec, &out)
	if out["threshold"] != 0.6 {
		t.Fatalf("expected 0.6, got %v", out["threshold"])
	}
}

func TestHandleAdminThreshold_RejectsOutOfRange(t *testing.T) {
	s := newTestSidecar(t)
	body, _ := json.Marshal(thresholdRequest{Value: floatPtr(5)})
	req := httptest.NewRequest(http.MethodPost, "/v1/command/admin/threshold", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleBlockBreak_UntrackedLocationReturnsOK(t *testing.T) {
	s := newTestSidecar(t)
	loc := model.Position{World: "overworld", X: 1, Y: 64, Z: 1}
	body, _ := json.Marshal(map[string]any{"location": loc})
	req := httptest.NewRequest(http.MethodPost, "/v1/events/block-break", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleAdminReindex_WithoutSnapshotterReturnsBadRequest(t *testing.T) {
	s := newTestSidecar(t)
	body, _ := json.Marshal(reindexRequest{Center: model.Position{World: "overworld"}, Radius: 10})
	req := httptest.NewRequest(http.MethodPost, "/v1/command/admin/reindex", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAdminLogs(t *testing.T) {
	s := newTestSidecar(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/command/admin/logs", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	decodeJSON(t, rec, &out)
	if _, ok := out["entries"]; !ok {
		t.Fatal("expected an entries field in the response")
	}
}

func TestHandleAdminStats(t *testing.T) {
	s := newTestSidecar(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/command/admin/stats", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func floatPtr(f float64) *float64 { return &f }
