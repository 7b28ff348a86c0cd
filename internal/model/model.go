// Package model holds the value types shared across the container search
// engine: containers, positions, chunks, path nodes, item stacks and the
// provider fingerprint.
package model

import (
	"encoding/json"
	"math"
	"time"
)

// Position is a world-qualified block coordinate. Positions are unique
// globally and owned by exactly one Container.
type Position struct {
	World string
	X     int
	Y     int
	Z     int
}

// Less orders positions lexicographically by (x, z, y), the tie-break rule
// the resolver uses to pick a double chest's primary half.
func (p Position) Less(other Position) bool {
	if p.X != other.X {
		return p.X < other.X
	}
	if p.Z != other.Z {
		return p.Z < other.Z
	}
	return p.Y < other.Y
}

// Distance returns the Euclidean distance to another position. Callers are
// expected to have already confirmed both positions share a world.
func (p Position) Distance(other Position) float64 {
	dx := float64(p.X - other.X)
	dy := float64(p.Y - other.Y)
	dz := float64(p.Z - other.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Container is a logical storage unit, possibly spanning multiple adjacent
// block positions (a double chest). Exactly one of its Locations is primary.
type Container struct {
	ID        string
	CreatedAt time.Time
	Locations []Position
	PrimaryIdx int
}

// Primary returns the container's primary position.
func (c Container) Primary() Position {
	return c.Locations[c.PrimaryIdx]
}

// PathNodeType tags the kind of nesting a PathNode represents.
type PathNodeType string

const (
	PathNodeShulker PathNodeType = "shulker"
	PathNodeBundle  PathNodeType = "bundle"
	PathNodeGeneric PathNodeType = "generic"
)

// PathNode is one level of container_path: an item-container nested inside
// another (a shulker box in a chest, a bundle in a shulker box, ...).
type PathNode struct {
	Type       PathNodeType
	Slot       int
	Color      string // only meaningful for PathNodeShulker
	CustomName string // only meaningful for PathNodeGeneric
}

// ContainerPath is an ordered list of PathNodes; an empty path means "at the
// root of the container". It is stored as a JSON array; the in-memory form
// is this tagged list.
type ContainerPath []PathNode

// MarshalText renders the path as its persisted JSON array form.
func (p ContainerPath) MarshalText() ([]byte, error) {
	if p == nil {
		p = ContainerPath{}
	}
	return json.Marshal([]PathNode(p))
}

// ParseContainerPath parses the JSON array form written by MarshalText.
func ParseContainerPath(data []byte) (ContainerPath, error) {
	if len(data) == 0 {
		return ContainerPath{}, nil
	}
	var nodes []PathNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	return ContainerPath(nodes), nil
}

// ItemStack is one inventory slot's contents as reported by the host.
type ItemStack struct {
	Slot        int
	MaterialID  string
	DisplayName string
	Amount      int
	Path        ContainerPath
}

// Chunk is a (content_text, embedding, chunk_index, container_path,
// timestamp) record associated with a Container. Every chunk has exactly
// one Ordinal, the identifier shared with the ANN graph's node id space.
type Chunk struct {
	ID          string
	ContainerID string
	Ordinal     int
	ChunkIndex  int
	ContentText string
	Embedding   []float32
	Path        ContainerPath
	Timestamp   time.Time
}

// Fingerprint is the (provider_name, model_name) pair that produced the
// vectors currently stored in the metadata store and vector index. A change
// invalidates all stored vectors.
type Fingerprint struct {
	Provider string
	Model    string
}

// Equal reports whether two fingerprints name the same provider and model.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Provider == other.Provider && f.Model == other.Model
}
