// Package spatial is the bounding-box pre-filter (C4): an R-tree query that
// produces an allow-set of ordinals, followed by an exact Euclidean
// post-filter once candidates come back from the ANN search.
package spatial

import "kitsune/internal/model"

// OrdinalSource is the capability spatial needs from the metadata tier.
type OrdinalSource interface {
	OrdinalsInBox(world string, min, max model.Position) (map[int]bool, error)
}

// AllowSet queries the R-tree for every container whose bounding box
// intersects the axis-aligned cube of the given radius around center, and
// returns the ordinals of their chunks. A nil map (as opposed to an empty
// one) is never returned; callers can rely on a non-nil allow-set meaning
// "radius filtering is active".
func AllowSet(src OrdinalSource, center model.Position, radius int) (map[int]bool, error) {
	min := model.Position{World: center.World, X: center.X - radius, Y: center.Y - radius, Z: center.Z - radius}
	max := model.Position{World: center.World, X: center.X + radius, Y: center.Y + radius, Z: center.Z + radius}
	set, err := src.OrdinalsInBox(center.World, min, max)
	if err != nil {
		return nil, err
	}
	if set == nil {
		set = map[int]bool{}
	}
	return set, nil
}

// WithinRadius reports whether pos lies within radius (inclusive) of
// center, the exact Euclidean check applied after the R-tree's
// coarser box query has pruned the ANN candidate set.
func WithinRadius(center, pos model.Position, radius float64) bool {
	if center.World != pos.World {
		return false
	}
	return center.Distance(pos) <= radius
}
