package resolver

import (
	"path/filepath"
	"testing"

	"kitsune/internal/metadatastore"
	"kitsune/internal/model"
)

func openTestStore(t *testing.T) *metadatastore.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := metadatastore.Open(filepath.Join(dir, "metadata.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResolveSingleChest(t *testing.T) {
	meta := openTestStore(t)
	r := New(meta)
	loc := model.Position{World: "overworld", X: 1, Y: 64, Z: 1}
	id, err := r.Resolve([]model.Position{loc})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty container id")
	}
}

func TestAddNeighborCoalescesIntoDoubleChest(t *testing.T) {
	meta := openTestStore(t)
	r := New(meta)
	a := model.Position{World: "overworld", X: 1, Y: 64, Z: 1}
	b := model.Position{World: "overworld", X: 2, Y: 64, Z: 1}

	id, err := r.Resolve([]model.Position{a})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := r.AddNeighbor(id, a, b); err != nil {
		t.Fatalf("addNeighbor: %v", err)
	}

	positions, err := meta.GetAllPositions(id)
	if err != nil {
		t.Fatalf("getAllPositions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	idFromB, err := r.Resolve([]model.Position{b})
	if err != nil {
		t.Fatalf("resolve b: %v", err)
	}
	if idFromB != id {
		t.Fatalf("expected resolving from either half to return the same id")
	}
}

func TestRemoveNeighborShrinksToSingle(t *testing.T) {
	meta := openTestStore(t)
	r := New(meta)
	a := model.Position{World: "overworld", X: 1, Y: 64, Z: 1}
	b := model.Position{World: "overworld", X: 2, Y: 64, Z: 1}

	id, err := r.Resolve([]model.Position{a, b})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := r.RemoveNeighbor(id, a); err != nil {
		t.Fatalf("removeNeighbor: %v", err)
	}
	positions, err := meta.GetAllPositions(id)
	if err != nil {
		t.Fatalf("getAllPositions: %v", err)
	}
	if len(positions) != 1 || positions[0] != a {
		t.Fatalf("expected single remaining position %v, got %v", a, positions)
	}
}

func TestResolveRejectsCrossWorldLocations(t *testing.T) {
	meta := openTestStore(t)
	r := New(meta)
	a := model.Position{World: "overworld", X: 1, Y: 64, Z: 1}
	b := model.Position{World: "nether", X: 2, Y: 64, Z: 1}
	if _, err := r.Resolve([]model.Position{a, b}); err == nil {
		t.Fatal("expected error for cross-world location set")
	}
}
