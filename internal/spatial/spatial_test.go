package spatial

import (
	"testing"

	"kitsune/internal/model"
)

type fakeOrdinalSource struct {
	box map[int]bool
	err error
}

func (f fakeOrdinalSource) OrdinalsInBox(world string, min, max model.Position) (map[int]bool, error) {
	return f.box, f.err
}

func TestAllowSet_ReturnsNonNilOnNilSource(t *testing.T) {
	src := fakeOrdinalSource{box: nil}
	center := model.Position{World: "overworld"}
	set, err := AllowSet(src, center, 5)
	if err != nil {
		t.Fatalf("allowSet: %v", err)
	}
	if set == nil {
		t.Fatal("expected non-nil allow-set")
	}
	if len(set) != 0 {
		t.Fatalf("expected empty allow-set, got %v", set)
	}
}

func TestAllowSet_PropagatesSourceError(t *testing.T) {
	src := fakeOrdinalSource{err: errBoom}
	if _, err := AllowSet(src, model.Position{}, 5); err != errBoom {
		t.Fatalf("expected propagated error, got %v", err)
	}
}

func TestWithinRadius_RejectsCrossWorld(t *testing.T) {
	a := model.Position{World: "overworld", X: 0, Y: 0, Z: 0}
	b := model.Position{World: "nether", X: 0, Y: 0, Z: 0}
	if WithinRadius(a, b, 1000) {
		t.Fatal("expected cross-world positions to never be within radius")
	}
}

func TestWithinRadius_Inclusive(t *testing.T) {
	a := model.Position{World: "overworld", X: 0, Y: 0, Z: 0}
	b := model.Position{World: "overworld", X: 5, Y: 0, Z: 0}
	if !WithinRadius(a, b, 5) {
		t.Fatal("expected exact boundary distance to count as within radius")
	}
	if WithinRadius(a, b, 4) {
		t.Fatal("expected distance greater than radius to be excluded")
	}
}

var errBoom = testError("boom")

type testError string

func (e testError) Error() string { return string(e) }
