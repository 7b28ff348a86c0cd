package metadatastore

import (
	"path/filepath"
	"testing"
	"time"

	"kitsune/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "metadata.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateContainerRoundTrip(t *testing.T) {
	s := openTestStore(t)
	loc := model.Position{World: "overworld", X: 10, Y: 64, Z: 20}

	id, err := s.GetOrCreateContainer([]model.Position{loc})
	if err != nil {
		t.Fatalf("getOrCreateContainer: %v", err)
	}

	gotID, ok, err := s.GetContainerByLocation(loc)
	if err != nil || !ok {
		t.Fatalf("getContainerByLocation: %v ok=%v", err, ok)
	}
	if gotID != id {
		t.Fatalf("round-trip mismatch: got %s want %s", gotID, id)
	}

	positions, err := s.GetAllPositions(id)
	if err != nil {
		t.Fatalf("getAllPositions: %v", err)
	}
	if len(positions) != 1 || positions[0] != loc {
		t.Fatalf("unexpected positions: %v", positions)
	}
}

func TestDoubleChestCoalescing(t *testing.T) {
	s := openTestStore(t)
	a := model.Position{World: "overworld", X: 1, Y: 64, Z: 1}
	b := model.Position{World: "overworld", X: 2, Y: 64, Z: 1}

	id, err := s.GetOrCreateContainer([]model.Position{a})
	if err != nil {
		t.Fatalf("getOrCreateContainer(a): %v", err)
	}

	id2, err := s.GetOrCreateContainer([]model.Position{a, b})
	if err != nil {
		t.Fatalf("getOrCreateContainer(a,b): %v", err)
	}
	if id2 != id {
		t.Fatalf("expected same container id, got %s and %s", id, id2)
	}

	positions, err := s.GetAllPositions(id)
	if err != nil {
		t.Fatalf("getAllPositions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}

	primary, err := s.GetPrimaryPosition(id)
	if err != nil {
		t.Fatalf("getPrimaryPosition: %v", err)
	}
	if primary != a {
		t.Fatalf("expected primary %v, got %v", a, primary)
	}
}

func TestPrimaryUniqueness(t *testing.T) {
	s := openTestStore(t)
	a := model.Position{World: "overworld", X: 1, Y: 64, Z: 1}
	b := model.Position{World: "overworld", X: 2, Y: 64, Z: 1}
	id, err := s.GetOrCreateContainer([]model.Position{a, b})
	if err != nil {
		t.Fatalf("getOrCreateContainer: %v", err)
	}

	var primaryCount int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM container_locations WHERE container_id = ? AND is_primary = 1`, id)
	if err := row.Scan(&primaryCount); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if primaryCount != 1 {
		t.Fatalf("expected exactly one primary, got %d", primaryCount)
	}
}

func TestReplaceChunksAndOrdinalsInBox(t *testing.T) {
	s := openTestStore(t)
	loc := model.Position{World: "overworld", X: 10, Y: 64, Z: 20}
	id, err := s.GetOrCreateContainer([]model.Position{loc})
	if err != nil {
		t.Fatalf("getOrCreateContainer: %v", err)
	}

	chunks := []model.Chunk{
		{ID: "c1", ContainerID: id, Ordinal: 0, ChunkIndex: 0, ContentText: "diamond pickaxe", Timestamp: time.Now()},
	}
	if err := s.ReplaceChunks(id, chunks); err != nil {
		t.Fatalf("replaceChunks: %v", err)
	}

	ordinals, err := s.OrdinalsInBox("overworld", model.Position{X: 0, Y: 0, Z: 0}, model.Position{X: 20, Y: 128, Z: 20})
	if err != nil {
		t.Fatalf("ordinalsInBox: %v", err)
	}
	if !ordinals[0] {
		t.Fatalf("expected ordinal 0 in box, got %v", ordinals)
	}

	rows, err := s.ChunksByOrdinals([]int{0})
	if err != nil {
		t.Fatalf("chunksByOrdinals: %v", err)
	}
	if len(rows) != 1 || rows[0].ContentText != "diamond pickaxe" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if rows[0].Primary != loc {
		t.Fatalf("expected primary %v, got %v", loc, rows[0].Primary)
	}
}

func TestPrimaryPositionsInBox(t *testing.T) {
	s := openTestStore(t)
	inside := model.Position{World: "overworld", X: 5, Y: 64, Z: 5}
	outside := model.Position{World: "overworld", X: 500, Y: 64, Z: 500}
	if _, err := s.GetOrCreateContainer([]model.Position{inside}); err != nil {
		t.Fatalf("getOrCreateContainer inside: %v", err)
	}
	if _, err := s.GetOrCreateContainer([]model.Position{outside}); err != nil {
		t.Fatalf("getOrCreateContainer outside: %v", err)
	}

	positions, err := s.PrimaryPositionsInBox("overworld", model.Position{X: 0, Y: 0, Z: 0}, model.Position{X: 20, Y: 128, Z: 20})
	if err != nil {
		t.Fatalf("primaryPositionsInBox: %v", err)
	}
	if len(positions) != 1 || positions[0] != inside {
		t.Fatalf("expected only inside position %v, got %v", inside, positions)
	}
}

func TestDeleteContainer(t *testing.T) {
	s := openTestStore(t)
	loc := model.Position{World: "overworld", X: 5, Y: 64, Z: 5}
	id, err := s.GetOrCreateContainer([]model.Position{loc})
	if err != nil {
		t.Fatalf("getOrCreateContainer: %v", err)
	}
	if err := s.ReplaceChunks(id, []model.Chunk{{ID: "c1", ContainerID: id, Ordinal: 0, ContentText: "x", Timestamp: time.Now()}}); err != nil {
		t.Fatalf("replaceChunks: %v", err)
	}

	if err := s.DeleteContainer(id); err != nil {
		t.Fatalf("deleteContainer: %v", err)
	}

	if _, ok, err := s.GetContainerByLocation(loc); err != nil || ok {
		t.Fatalf("expected container gone, ok=%v err=%v", ok, err)
	}
	count, err := s.ChunkCount()
	if err != nil {
		t.Fatalf("chunkCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 chunks after delete, got %d", count)
	}
}

func TestThresholdGetSet(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetThreshold()
	if err != nil {
		t.Fatalf("getThreshold: %v", err)
	}
	if got != 0.7 {
		t.Fatalf("expected default threshold 0.7, got %v", got)
	}
	if err := s.SetThreshold(0.82); err != nil {
		t.Fatalf("setThreshold: %v", err)
	}
	got, err = s.GetThreshold()
	if err != nil {
		t.Fatalf("getThreshold: %v", err)
	}
	if got != 0.82 {
		t.Fatalf("expected 0.82, got %v", got)
	}
	if err := s.SetThreshold(1.5); err == nil {
		t.Fatal("expected error for out-of-range threshold")
	}
}

func TestRenumberOrdinals(t *testing.T) {
	s := openTestStore(t)
	loc := model.Position{World: "overworld", X: 0, Y: 64, Z: 0}
	id, err := s.GetOrCreateContainer([]model.Position{loc})
	if err != nil {
		t.Fatalf("getOrCreateContainer: %v", err)
	}
	chunks := []model.Chunk{
		{ID: "c1", ContainerID: id, Ordinal: 5, ContentText: "a", Timestamp: time.Now()},
		{ID: "c2", ContainerID: id, Ordinal: 9, ContentText: "b", Timestamp: time.Now()},
	}
	if err := s.ReplaceChunks(id, chunks); err != nil {
		t.Fatalf("replaceChunks: %v", err)
	}

	if err := s.RenumberOrdinals(map[int]int{5: 0, 9: 1}); err != nil {
		t.Fatalf("renumberOrdinals: %v", err)
	}

	live, err := s.LiveOrdinals()
	if err != nil {
		t.Fatalf("liveOrdinals: %v", err)
	}
	if !live[0] || !live[1] || len(live) != 2 {
		t.Fatalf("unexpected live ordinals: %v", live)
	}
}

func TestPurgeAll(t *testing.T) {
	s := openTestStore(t)
	loc := model.Position{World: "overworld", X: 0, Y: 64, Z: 0}
	id, err := s.GetOrCreateContainer([]model.Position{loc})
	if err != nil {
		t.Fatalf("getOrCreateContainer: %v", err)
	}
	if err := s.ReplaceChunks(id, []model.Chunk{{ID: "c1", ContainerID: id, Ordinal: 0, ContentText: "x", Timestamp: time.Now()}}); err != nil {
		t.Fatalf("replaceChunks: %v", err)
	}
	if err := s.SetThreshold(0.9); err != nil {
		t.Fatalf("setThreshold: %v", err)
	}

	if err := s.PurgeAll(); err != nil {
		t.Fatalf("purgeAll: %v", err)
	}

	count, err := s.ContainerCount()
	if err != nil {
		t.Fatalf("containerCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 containers, got %d", count)
	}
	threshold, err := s.GetThreshold()
	if err != nil {
		t.Fatalf("getThreshold: %v", err)
	}
	if threshold != 0.9 {
		t.Fatalf("expected threshold to survive purge, got %v", threshold)
	}
}
