// Package hybridstore is the coordinator (C3) that enforces the ordinal
// invariant between the metadata tier and the vector index, and exposes
// the combined index/search/delete surface the query pipeline and the
// container indexer call.
package hybridstore

import (
	"fmt"
	"log"
	"sync"

	"kitsune/internal/metadatastore"
	"kitsune/internal/model"
	"kitsune/internal/spatial"
	"kitsune/internal/vectorindex"
)

// Store coordinates the metadata store and the vector index.
type Store struct {
	meta *metadatastore.Store
	vec  *vectorindex.Index

	ordMu       sync.Mutex
	nextOrdinal int
}

// New builds a Store, seeding the ordinal allocation counter from the
// highest ordinal already present in the metadata tier.
func New(meta *metadatastore.Store, vec *vectorindex.Index) (*Store, error) {
	max, err := meta.MaxOrdinal()
	if err != nil {
		return nil, fmt.Errorf("hybridstore: seed ordinal counter: %w", err)
	}
	return &Store{meta: meta, vec: vec, nextOrdinal: max + 1}, nil
}

// Result is one ranked chunk row together with its raw semantic score.
type Result struct {
	Row   metadatastore.ChunkRow
	Score float64
}

// Stats summarizes store state for the admin stats command.
type Stats struct {
	ChunkCount     int
	ContainerCount int
	Backend        string
	GraphDirty     bool
	SIMD           string
}

// IndexChunks allocates fresh ordinals for the given chunks, replaces the
// container's chunk rows in one metadata transaction, then adds each
// vector to the index under the write lock. If a vector add fails after
// the metadata commit, the ordinal is left dangling; the next graph
// rebuild's defensive prune clears it.
func (s *Store) IndexChunks(containerID string, chunks []model.Chunk) error {
	s.ordMu.Lock()
	for i := range chunks {
		chunks[i].Ordinal = s.nextOrdinal
		chunks[i].ContainerID = containerID
		s.nextOrdinal++
	}
	s.ordMu.Unlock()

	if err := s.meta.ReplaceChunks(containerID, chunks); err != nil {
		return fmt.Errorf("hybridstore indexChunks: %w", err)
	}
	for _, c := range chunks {
		if err := s.vec.AddVector(c.Ordinal, c.Embedding); err != nil {
			log.Printf("[hybridstore] vector add failed for ordinal %d, will be pruned on next rebuild: %v", c.Ordinal, err)
		}
	}
	return nil
}

// DeleteByLocation resolves the container owning a position and deletes it.
// A location with no owning container is a no-op.
func (s *Store) DeleteByLocation(loc model.Position) error {
	id, ok, err := s.meta.GetContainerByLocation(loc)
	if err != nil {
		return fmt.Errorf("hybridstore deleteByLocation: %w", err)
	}
	if !ok {
		return nil
	}
	return s.DeleteContainer(id)
}

// DeleteContainer removes a container's rows from the metadata tier and
// nulls the corresponding vector slots.
func (s *Store) DeleteContainer(id string) error {
	ordinals, err := s.meta.OrdinalsForContainer(id)
	if err != nil {
		return fmt.Errorf("hybridstore deleteContainer: %w", err)
	}
	if err := s.meta.DeleteContainer(id); err != nil {
		return fmt.Errorf("hybridstore deleteContainer: %w", err)
	}
	for _, o := range ordinals {
		s.vec.DeleteVector(o)
	}
	return nil
}

// Search runs an unfiltered ANN search for queryVec and returns the
// top-k chunk rows with their semantic scores.
func (s *Store) Search(queryVec []float32, k int) ([]Result, error) {
	return s.search(queryVec, k, nil)
}

// SearchWithinRadius builds a spatial allow-set around center before
// searching, then drops any candidate whose primary position falls outside
// radius (the R-tree box is a coarser pre-filter than the exact check).
func (s *Store) SearchWithinRadius(queryVec []float32, k int, center model.Position, radius int) ([]Result, error) {
	allow, err := spatial.AllowSet(s.meta, center, radius)
	if err != nil {
		return nil, fmt.Errorf("hybridstore searchWithinRadius: %w", err)
	}
	if len(allow) == 0 {
		return nil, nil
	}
	results, err := s.search(queryVec, k, allow)
	if err != nil {
		return nil, err
	}
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if spatial.WithinRadius(center, r.Row.Primary, float64(radius)) {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func (s *Store) search(queryVec []float32, k int, allow map[int]bool) ([]Result, error) {
	hits, err := s.vec.Search(queryVec, k, allow)
	if err != nil {
		return nil, fmt.Errorf("hybridstore search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	ordinals := make([]int, len(hits))
	scoreByOrdinal := make(map[int]float64, len(hits))
	for i, h := range hits {
		ordinals[i] = h.Ordinal
		scoreByOrdinal[h.Ordinal] = h.Score
	}
	rows, err := s.meta.ChunksByOrdinals(ordinals)
	if err != nil {
		return nil, fmt.Errorf("hybridstore search: %w", err)
	}
	results := make([]Result, len(rows))
	for i, row := range rows {
		results[i] = Result{Row: row, Score: scoreByOrdinal[row.Ordinal]}
	}
	return results, nil
}

// GetStats returns current chunk/container counts plus graph health.
func (s *Store) GetStats() (Stats, error) {
	chunks, err := s.meta.ChunkCount()
	if err != nil {
		return Stats{}, fmt.Errorf("hybridstore getStats: %w", err)
	}
	containers, err := s.meta.ContainerCount()
	if err != nil {
		return Stats{}, fmt.Errorf("hybridstore getStats: %w", err)
	}
	return Stats{
		ChunkCount:     chunks,
		ContainerCount: containers,
		Backend:        "hybrid-local",
		GraphDirty:     s.vec.Dirty(),
		SIMD:           vectorindex.SIMDCapability(),
	}, nil
}

// PurgeAll truncates persistent state and resets the vector index.
func (s *Store) PurgeAll() error {
	s.ordMu.Lock()
	s.nextOrdinal = 0
	s.ordMu.Unlock()

	if err := s.meta.PurgeAll(); err != nil {
		return fmt.Errorf("hybridstore purgeAll: %w", err)
	}
	if err := s.vec.Reset(); err != nil {
		return fmt.Errorf("hybridstore purgeAll: %w", err)
	}
	return nil
}

// Shutdown runs a final graph rebuild if dirty, then closes the database
// connection pool.
func (s *Store) Shutdown() error {
	if err := s.vec.Shutdown(); err != nil {
		log.Printf("[hybridstore] shutdown rebuild failed: %v", err)
	}
	return s.meta.Close()
}
