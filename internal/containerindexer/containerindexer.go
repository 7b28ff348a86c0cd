// Package containerindexer implements the debounced per-container indexing
// job scheduler (C6): it coalesces rapid inventory modifications to the same
// container into a single embed+store cycle.
package containerindexer

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"kitsune/internal/chunker"
	"kitsune/internal/embedding"
	"kitsune/internal/errlog"
	"kitsune/internal/model"
	"kitsune/internal/provider"
	"kitsune/internal/resolver"
)

// Store is the subset of HybridStore the indexer writes through.
type Store interface {
	IndexChunks(containerID string, chunks []model.Chunk) error
}

// PositionLister enumerates container primary positions within a box, used
// by ReindexRadius.
type PositionLister interface {
	PrimaryPositionsInBox(world string, minP, maxP model.Position) ([]model.Position, error)
}

// Snapshotter fetches a container's current item contents from the host.
// The host-side inventory representation is out of scope; the indexer only
// needs this one callback to re-pull items for admin reindex.
type Snapshotter func(primary model.Position) ([]model.ItemStack, error)

// pendingTimer pairs a live timer with the generation it was armed under, so
// a superseded timer's fired callback can tell it no longer owns the map
// entry for its key instead of blindly deleting whatever is there.
type pendingTimer struct {
	timer *time.Timer
	gen   uint64
}

// Indexer debounces ScheduleIndex calls per container key and runs indexing
// jobs on a bounded worker pool.
type Indexer struct {
	debounce time.Duration
	chunker  *chunker.Chunker
	embedder embedding.Service
	resolver *resolver.Resolver
	store    Store
	guard    *provider.Guard

	mu      sync.Mutex
	timers  map[model.Position]*pendingTimer
	nextGen uint64
	wg      sync.WaitGroup
	sem     chan struct{}
	closed  bool
}

// New builds an Indexer. debounce is the coalescing window (typical
// 1500ms); workers bounds the number of indexing jobs run concurrently.
func New(debounce time.Duration, workers int, c *chunker.Chunker, embedder embedding.Service, res *resolver.Resolver, store Store, guard *provider.Guard) *Indexer {
	if workers < 1 {
		workers = 1
	}
	return &Indexer{
		debounce: debounce,
		chunker:  c,
		embedder: embedder,
		resolver: res,
		store:    store,
		guard:    guard,
		timers:   make(map[model.Position]*pendingTimer),
		sem:      make(chan struct{}, workers),
	}
}

// ScheduleIndex cancels any pending timer for primary and arms a new one.
// When the timer fires, the indexing job resolves/creates the container,
// chunks items, batch-embeds them and writes them through Store.
//
// Every call adds exactly one pending job to wg, and every armed timer's
// closure removes exactly one when it runs — regardless of whether that
// timer turns out to be the one still recorded in the map when it fires.
// A superseded timer that Stop() cancels before it fires never runs its
// closure, so its slot is released here instead.
// Stop() on an already-fired timer returns false, so counting wg against
// map presence (as an earlier version of this did) under-counts Add calls
// when a reschedule races a timer's own fire, eventually driving the
// WaitGroup negative and panicking.
func (ix *Indexer) ScheduleIndex(primary model.Position, items []model.ItemStack) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return
	}
	if pending, ok := ix.timers[primary]; ok {
		if pending.timer.Stop() {
			ix.wg.Done()
		}
	}

	ix.nextGen++
	gen := ix.nextGen
	ix.wg.Add(1)
	t := time.AfterFunc(ix.debounce, func() {
		ix.mu.Lock()
		if cur, ok := ix.timers[primary]; ok && cur.gen == gen {
			delete(ix.timers, primary)
		}
		ix.mu.Unlock()
		defer ix.wg.Done()
		ix.runJob(primary, items)
	})
	ix.timers[primary] = &pendingTimer{timer: t, gen: gen}
}

// ReindexRadius enumerates containers whose bounding box falls within
// radius of center and schedules each for reindex, re-pulling its current
// contents through snap.
func (ix *Indexer) ReindexRadius(meta PositionLister, center model.Position, radius int, snap Snapshotter) error {
	minP := model.Position{World: center.World, X: center.X - radius, Y: center.Y - radius, Z: center.Z - radius}
	maxP := model.Position{World: center.World, X: center.X + radius, Y: center.Y + radius, Z: center.Z + radius}
	positions, err := meta.PrimaryPositionsInBox(center.World, minP, maxP)
	if err != nil {
		return fmt.Errorf("containerindexer: reindexRadius: %w", err)
	}
	for _, pos := range positions {
		items, err := snap(pos)
		if err != nil {
			log.Printf("[indexer] snapshot failed for %+v, skipping: %v", pos, err)
			errlog.Errorf(errlog.ComponentIndexer, "snapshot failed for %+v: %v", pos, err)
			continue
		}
		ix.ScheduleIndex(pos, items)
	}
	return nil
}

// Shutdown cancels all pending timers and waits for any running job to
// finish. After Shutdown returns, ScheduleIndex is a no-op.
func (ix *Indexer) Shutdown() {
	ix.mu.Lock()
	ix.closed = true
	for key, pending := range ix.timers {
		if pending.timer.Stop() {
			// Timer had not fired yet: it will never run, so release its
			// WaitGroup slot here instead of waiting for AfterFunc to do it.
			ix.wg.Done()
		}
		delete(ix.timers, key)
	}
	ix.mu.Unlock()
	ix.wg.Wait()
}

func (ix *Indexer) runJob(primary model.Position, items []model.ItemStack) {
	ix.sem <- struct{}{}
	defer func() { <-ix.sem }()

	if err := ix.guard.Check(); err != nil {
		log.Printf("[indexer] skipping index job for %+v: %v", primary, err)
		return
	}

	containerID, err := ix.resolver.Resolve([]model.Position{primary})
	if err != nil {
		log.Printf("[indexer] resolve failed for %+v: %v", primary, err)
		errlog.Errorf(errlog.ComponentIndexer, "resolve failed for %+v: %v", primary, err)
		return
	}

	chunks := ix.chunker.Split(items)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.ContentText
	}

	var embeddings [][]float32
	if len(texts) > 0 {
		embeddings, err = ix.embedder.EmbedBatch(texts, embedding.RoleDocument)
		if err != nil {
			log.Printf("[indexer] embedding failed for container %s, abandoning job: %v", containerID, err)
			errlog.Errorf(errlog.ComponentIndexer, "embedding failed for container %s: %v", containerID, err)
			return
		}
	}

	now := time.Now()
	for i := range chunks {
		chunks[i].ID = uuid.NewString()
		chunks[i].ContainerID = containerID
		chunks[i].Embedding = embeddings[i]
		chunks[i].Timestamp = now
	}

	if err := ix.store.IndexChunks(containerID, chunks); err != nil {
		log.Printf("[indexer] indexChunks failed for container %s: %v", containerID, err)
		errlog.Errorf(errlog.ComponentIndexer, "indexChunks failed for container %s: %v", containerID, err)
	}
}
