// Package vectorindex is the ANN tier (C2) of the container search engine:
// an in-memory vector arena keyed by a dense ordinal, backed by an on-disk
// flat proximity graph used for cosine-similarity top-k search.
package vectorindex

import (
	"fmt"
	"log"
	"os"
	"sync"

	sqlitevec "github.com/nicexipi/sqlite-vec"
)

// Params tunes the proximity graph. Defaults match the values this engine
// ships with.
type Params struct {
	M              int     // out-degree per node
	EfConstruction int     // construction beam width
	EfSearch       int     // search beam width
	Overflow       float64 // neighbor-list overflow factor before pruning
	Alpha          float64 // diversity parameter for neighbor selection
}

// DefaultParams returns the engine's default graph parameters.
func DefaultParams() Params {
	return Params{
		M:              16,
		EfConstruction: 100,
		EfSearch:       100,
		Overflow:       1.2,
		Alpha:          1.2,
	}
}

// Result is one (ordinal, score) hit from Search, score in [-1,1].
type Result struct {
	Ordinal int
	Score   float64
}

// Renumberer is the capability VectorIndex needs from the metadata tier to
// complete a rebuild: apply the two-phase ordinal renumber and prune any
// chunk row whose ordinal fell out of the compacted map.
type Renumberer interface {
	RenumberOrdinals(mapping map[int]int) error
}

// Index holds the ordinal-keyed vector arena and the on-disk graph. A
// single reader/writer lock guards all structural mutation: reads share,
// writes (add/delete) exclude only long enough to touch the dirty flag,
// and Rebuild takes the lock for the full compaction.
type Index struct {
	mu   sync.RWMutex
	dim  int
	path string

	vectors [][]float32 // vectors[ordinal] == nil means hole
	graph   *graph
	dirty   bool

	params     Params
	renumberer Renumberer
}

// New constructs an Index. It attempts to load an existing graph file at
// path; a missing or corrupt file marks the index dirty so the next Search
// triggers a rebuild rather than failing.
func New(dim int, params Params, path string, renumberer Renumberer) *Index {
	idx := &Index{
		dim:        dim,
		path:       path,
		params:     params,
		renumberer: renumberer,
		graph:      newGraph(params),
	}
	if err := idx.load(); err != nil {
		log.Printf("[vectorindex] no usable graph at %s, starting dirty: %v", path, err)
		idx.dirty = true
	}
	return idx
}

// SIMDCapability reports the active SIMD dispatch path used by the
// similarity primitives, surfaced on admin stats.
func SIMDCapability() string {
	return sqlitevec.SIMDCapability()
}

// Dirty reports whether the graph needs a rebuild before it next serves a
// search.
func (idx *Index) Dirty() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dirty
}

// AddVector appends or overwrites the vector at ordinal, growing the arena
// with holes as needed. It marks the index dirty without touching the
// graph; graph work is amortized into the next Search or Rebuild.
func (idx *Index) AddVector(ordinal int, vec []float32) error {
	if len(vec) != idx.dim {
		return fmt.Errorf("vectorindex: dimension mismatch, got %d want %d", len(vec), idx.dim)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for ordinal >= len(idx.vectors) {
		idx.vectors = append(idx.vectors, nil)
	}
	idx.vectors[ordinal] = vec
	idx.dirty = true
	return nil
}

// DeleteVector marks the slot at ordinal a hole. It marks the index dirty
// without touching the graph.
func (idx *Index) DeleteVector(ordinal int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ordinal >= 0 && ordinal < len(idx.vectors) {
		idx.vectors[ordinal] = nil
	}
	idx.dirty = true
}

// Search returns the top-k (ordinal, score) pairs by cosine similarity. If
// allowSet is non-nil, only ordinals present in it (with a true value) are
// considered; an empty non-nil allowSet short-circuits to no results. If
// the graph is dirty or missing, Search rebuilds it first.
func (idx *Index) Search(query []float32, k int, allowSet map[int]bool) ([]Result, error) {
	if allowSet != nil && len(allowSet) == 0 {
		return nil, nil
	}
	if len(query) != idx.dim {
		return nil, fmt.Errorf("vectorindex: query dimension mismatch, got %d want %d", len(query), idx.dim)
	}

	idx.mu.RLock()
	needsRebuild := idx.dirty || idx.graph.empty()
	idx.mu.RUnlock()

	if needsRebuild {
		if err := idx.Rebuild(); err != nil {
			log.Printf("[vectorindex] rebuild before search failed, returning empty: %v", err)
			return nil, nil
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var pred func(int) bool
	if allowSet != nil {
		pred = func(ordinal int) bool { return allowSet[ordinal] }
	}
	return idx.graph.search(idx.vectors, query, k, idx.params.EfSearch, pred), nil
}

// Rebuild compacts the vector arena (dropping holes), renumbers C1's
// ordinals to match via the injected Renumberer, replaces the in-memory
// structures, and rewrites the graph file atomically. On success the dirty
// flag is cleared; on failure it is left set so the next search retries.
func (idx *Index) Rebuild() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	mapping := make(map[int]int)
	compacted := make([][]float32, 0, len(idx.vectors))
	for oldOrd, v := range idx.vectors {
		if v == nil {
			continue
		}
		mapping[oldOrd] = len(compacted)
		compacted = append(compacted, v)
	}

	if err := idx.renumberer.RenumberOrdinals(mapping); err != nil {
		return fmt.Errorf("vectorindex rebuild: renumber: %w", err)
	}

	idx.vectors = compacted
	idx.graph = buildGraph(idx.params, compacted)

	if err := idx.saveAtomic(); err != nil {
		log.Printf("[vectorindex] failed to persist rebuilt graph, leaving dirty: %v", err)
		idx.dirty = true
		return err
	}
	idx.dirty = false
	return nil
}

// Shutdown runs one final rebuild if dirty, then releases graph state.
func (idx *Index) Shutdown() error {
	if idx.Dirty() {
		if err := idx.Rebuild(); err != nil {
			return fmt.Errorf("vectorindex shutdown rebuild: %w", err)
		}
	}
	return nil
}

// Reset clears all in-memory vectors and the graph, then removes the
// on-disk graph file. Used by admin purge.
func (idx *Index) Reset() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors = nil
	idx.graph = newGraph(idx.params)
	idx.dirty = false
	if err := os.Remove(idx.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove graph file: %w", err)
	}
	return nil
}

func (idx *Index) saveAtomic() error {
	tmp := idx.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp graph file: %w", err)
	}
	if err := writeGraph(f, idx.dim, idx.params, idx.vectors, idx.graph); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write graph file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close graph file: %w", err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename graph file: %w", err)
	}
	return nil
}

func (idx *Index) load() error {
	f, err := os.Open(idx.path)
	if err != nil {
		return err
	}
	defer f.Close()

	vectors, graph, dim, err := readGraph(f, idx.params)
	if err != nil {
		return err
	}
	if dim != idx.dim {
		return fmt.Errorf("graph file dimension %d does not match configured %d", dim, idx.dim)
	}
	idx.vectors = vectors
	idx.graph = graph
	return nil
}
