// Package resolver reconciles a container's physical block layout (one
// position for a single chest, two adjacent positions for a double chest)
// into one logical container identity (C8).
package resolver

import (
	"fmt"

	"kitsune/internal/model"
)

// MetadataStore is the subset of the metadata tier the resolver needs.
// Defined locally so resolver never imports metadatastore's concrete type.
type MetadataStore interface {
	GetOrCreateContainer(locations []model.Position) (string, error)
	RegisterOrUpdateLocations(containerID string, locations []model.Position) error
	GetAllPositions(containerID string) ([]model.Position, error)
}

// Resolver reconciles physical block layouts into logical container ids.
type Resolver struct {
	meta MetadataStore
}

// New builds a Resolver over the given metadata store.
func New(meta MetadataStore) *Resolver {
	return &Resolver{meta: meta}
}

// Resolve returns the logical container id owning the given location set,
// creating one if none exists yet. locations must all share the same world
// and contain at least one position; a single entry is the common case, two
// adjacent entries describe a double chest.
func (r *Resolver) Resolve(locations []model.Position) (string, error) {
	locations, err := normalize(locations)
	if err != nil {
		return "", err
	}
	id, err := r.meta.GetOrCreateContainer(locations)
	if err != nil {
		return "", fmt.Errorf("resolver: getOrCreateContainer: %w", err)
	}
	return id, nil
}

// AddNeighbor handles a block-place event: a new adjacent block joins an
// existing single-chest container, turning it into a double chest. The
// existing container id is looked up via the already-placed location.
func (r *Resolver) AddNeighbor(containerID string, existing model.Position, neighbor model.Position) error {
	locations, err := normalize([]model.Position{existing, neighbor})
	if err != nil {
		return err
	}
	if err := r.meta.RegisterOrUpdateLocations(containerID, locations); err != nil {
		return fmt.Errorf("resolver: addNeighbor: %w", err)
	}
	return nil
}

// RemoveNeighbor handles the loss of one half of a double chest (its
// neighbour block was broken), shrinking the location set back to one.
func (r *Resolver) RemoveNeighbor(containerID string, remaining model.Position) error {
	if err := r.meta.RegisterOrUpdateLocations(containerID, []model.Position{remaining}); err != nil {
		return fmt.Errorf("resolver: removeNeighbor: %w", err)
	}
	return nil
}

// normalize validates that all locations share a world and removes exact
// duplicates, preserving order.
func normalize(locations []model.Position) ([]model.Position, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("resolver: at least one location is required")
	}
	world := locations[0].World
	seen := make(map[model.Position]bool, len(locations))
	out := make([]model.Position, 0, len(locations))
	for _, loc := range locations {
		if loc.World != world {
			return nil, fmt.Errorf("resolver: locations span multiple worlds (%s, %s)", world, loc.World)
		}
		if seen[loc] {
			continue
		}
		seen[loc] = true
		out = append(out, loc)
	}
	return out, nil
}
