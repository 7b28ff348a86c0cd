// Package engine wires the metadata store, vector index, query pipeline,
// container indexer, provider guard and resolver into the single handle
// the CLI/chat surface and the host event contract call through. It is the
// explicit, passed-by-reference home for the process-wide state (the
// provider mismatch flag, the persisted threshold) that would otherwise
// end up as ambient singletons.
package engine

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"kitsune/internal/chunker"
	"kitsune/internal/config"
	"kitsune/internal/containerindexer"
	"kitsune/internal/embedding"
	"kitsune/internal/errlog"
	"kitsune/internal/history"
	"kitsune/internal/hybridstore"
	"kitsune/internal/metadatastore"
	"kitsune/internal/model"
	"kitsune/internal/provider"
	"kitsune/internal/querypipeline"
	"kitsune/internal/resolver"
	"kitsune/internal/vectorindex"
)

// Engine is the concrete handle every external surface (CLI, chat, sidecar
// HTTP) drives. It owns the lifetime of every store and background worker.
type Engine struct {
	cm       *config.ConfigManager
	meta     *metadatastore.Store
	vec      *vectorindex.Index
	store    *hybridstore.Store
	pipeline *querypipeline.Pipeline
	resolver *resolver.Resolver
	guard    *provider.Guard
	indexer  *containerindexer.Indexer
	hist     *history.Store

	snapMu    sync.Mutex
	snapshots map[model.Position][]model.ItemStack

	mu           sync.RWMutex
	shuttingDown bool
}

// New opens every store named in cfg and wires them together. The caller
// owns cm and may call AdminReload to re-read it later.
func New(cm *config.ConfigManager) (*Engine, error) {
	cfg := cm.Get()
	if cfg == nil {
		if err := cm.Load(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		cfg = cm.Get()
	}

	meta, err := metadatastore.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open metadata store: %v", ErrConfiguration, err)
	}

	vec := vectorindex.New(cfg.Embedding.Dimension, vectorindex.DefaultParams(), cfg.Storage.GraphPath, meta)

	store, err := hybridstore.New(meta, vec)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("%w: open hybrid store: %v", ErrConfiguration, err)
	}

	embedder := embedding.NewAPIService(cfg.Embedding.Endpoint, cfg.Embedding.APIKey, cfg.Embedding.ModelName)

	guardPath := filepath.Join(filepath.Dir(cfg.Storage.DBPath), "provider_metadata.properties")
	guard := provider.New(guardPath)
	fp := model.Fingerprint{Provider: cfg.Embedding.Provider, Model: cfg.Embedding.ModelName}
	if err := guard.Load(fp); err != nil {
		store.Shutdown()
		return nil, fmt.Errorf("%w: load provider fingerprint: %v", ErrConfiguration, err)
	}

	res := resolver.New(meta)
	pipeline := querypipeline.New(embedder, store, meta, cfg.Search.RerankAlpha)

	hist, err := history.Open(cfg.Storage.DBPath)
	if err != nil {
		store.Shutdown()
		return nil, fmt.Errorf("%w: open history store: %v", ErrConfiguration, err)
	}

	debounce := time.Duration(cfg.Indexing.DebounceMS) * time.Millisecond
	c := chunker.New()
	indexer := containerindexer.New(debounce, cfg.Indexing.WorkerPoolSize, c, embedder, res, store, guard)

	return &Engine{
		cm:        cm,
		meta:      meta,
		vec:       vec,
		store:     store,
		pipeline:  pipeline,
		resolver:  res,
		guard:     guard,
		indexer:   indexer,
		hist:      hist,
		snapshots: make(map[model.Position][]model.ItemStack),
	}, nil
}

func (e *Engine) checkAlive() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.shuttingDown {
		return ErrShuttingDown
	}
	return nil
}

// Find runs the query pipeline without a spatial filter.
func (e *Engine) Find(playerID, query string, limit int) ([]querypipeline.Result, error) {
	if err := e.checkAlive(); err != nil {
		return nil, err
	}
	if err := e.guard.Check(); err != nil {
		return nil, ErrProviderMismatch
	}
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrClientInput)
	}
	if limit <= 0 {
		limit = e.cm.Get().Search.DefaultLimit
	}
	results, err := e.pipeline.Find(query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingPermanent, err)
	}
	if e.hist != nil {
		if err := e.hist.Record(playerID, query); err != nil {
			// best-effort; history is explicitly out of core scope
			_ = err
		}
	}
	return results, nil
}

// FindWithinRadius runs the query pipeline constrained to a radius around
// center.
func (e *Engine) FindWithinRadius(playerID, query string, limit int, center model.Position, radius int) ([]querypipeline.Result, error) {
	if err := e.checkAlive(); err != nil {
		return nil, err
	}
	if err := e.guard.Check(); err != nil {
		return nil, ErrProviderMismatch
	}
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrClientInput)
	}
	if radius <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrClientInput)
	}
	if limit <= 0 {
		limit = e.cm.Get().Search.DefaultLimit
	}
	results, err := e.pipeline.FindWithinRadius(query, limit, center, radius)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingPermanent, err)
	}
	if e.hist != nil {
		if err := e.hist.Record(playerID, query); err != nil {
			_ = err
		}
	}
	return results, nil
}

// OnContainerOpen records the item snapshot a player saw when opening a
// container, so OnContainerClose can tell whether anything changed.
func (e *Engine) OnContainerOpen(player string, primary model.Position, items []model.ItemStack) {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	e.snapshots[primary] = cloneItems(items)
}

// OnContainerClose compares the current contents against the snapshot
// taken at open time and schedules an index job if anything changed.
func (e *Engine) OnContainerClose(player string, primary model.Position, items []model.ItemStack) {
	e.snapMu.Lock()
	before, ok := e.snapshots[primary]
	delete(e.snapshots, primary)
	e.snapMu.Unlock()

	if ok && itemsEqual(before, items) {
		return
	}
	e.indexer.ScheduleIndex(primary, items)
}

// OnBlockBreak deletes the container owning location, if any.
func (e *Engine) OnBlockBreak(loc model.Position) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	if err := e.store.DeleteByLocation(loc); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageTransient, err)
	}
	return nil
}

// OnBlockPlace lets the resolver fold a newly placed block into an
// existing container when it is adjacent to one.
func (e *Engine) OnBlockPlace(loc model.Position, adjacent []model.Position) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	for _, other := range adjacent {
		containerID, ok, err := e.meta.GetContainerByLocation(other)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageTransient, err)
		}
		if !ok {
			continue
		}
		if err := e.resolver.AddNeighbor(containerID, other, loc); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageTransient, err)
		}
		return nil
	}
	return nil
}

// OnItemTransfer schedules a reindex of both the source and destination
// containers of a hopper/shulker transfer.
func (e *Engine) OnItemTransfer(source, dest model.Position, sourceItems, destItems []model.ItemStack) {
	e.indexer.ScheduleIndex(source, sourceItems)
	e.indexer.ScheduleIndex(dest, destItems)
}

// AdminReload re-reads the config file. It does not touch persistent data;
// live stores keep using the values they were constructed with.
func (e *Engine) AdminReload() error {
	if err := e.cm.Load(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// AdminStats returns current chunk/container counts and backend health.
func (e *Engine) AdminStats() (hybridstore.Stats, error) {
	stats, err := e.store.GetStats()
	if err != nil {
		return hybridstore.Stats{}, fmt.Errorf("%w: %v", ErrStorageTransient, err)
	}
	return stats, nil
}

// AdminLogs returns the most recent error log entries in chronological
// order (oldest first), for the `admin logs` surface.
func (e *Engine) AdminLogs(limit int) ([]errlog.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := errlog.RecentEntries(limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageTransient, err)
	}
	return entries, nil
}

// AdminReindex enumerates containers within radius of center and schedules
// each for reindex, using snap to re-pull current item contents.
func (e *Engine) AdminReindex(center model.Position, radius int, snap containerindexer.Snapshotter) error {
	if radius <= 0 {
		return fmt.Errorf("%w: radius must be positive", ErrClientInput)
	}
	if err := e.indexer.ReindexRadius(e.meta, center, radius, snap); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageTransient, err)
	}
	return nil
}

// AdminPurge truncates all persistent index state and resets the provider
// fingerprint to the currently configured one.
func (e *Engine) AdminPurge() error {
	fp := model.Fingerprint{Provider: e.cm.Get().Embedding.Provider, Model: e.cm.Get().Embedding.ModelName}
	if err := e.guard.Purge(fp, e.store.PurgeAll); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageTransient, err)
	}
	return nil
}

// AdminThreshold gets the persisted similarity threshold, or sets it when
// value is non-nil.
func (e *Engine) AdminThreshold(value *float64) (float64, error) {
	if value != nil {
		if *value < 0 || *value > 1 {
			return 0, fmt.Errorf("%w: threshold must be in [0,1]", ErrClientInput)
		}
		if err := e.meta.SetThreshold(*value); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStorageTransient, err)
		}
		return *value, nil
	}
	t, err := e.meta.GetThreshold()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageTransient, err)
	}
	return t, nil
}

// History returns recent searches for a player, or across all players when
// playerID is empty.
func (e *Engine) History(playerID string, limit int) ([]history.Entry, error) {
	if playerID == "" {
		return e.hist.Global(limit)
	}
	return e.hist.Recent(playerID, limit)
}

// HistoryClear clears a player's search history.
func (e *Engine) HistoryClear(playerID string) error {
	return e.hist.Clear(playerID)
}

// Shutdown fails new operations fast, drains the container indexer, runs a
// final graph rebuild if dirty, and closes every store.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.shuttingDown = true
	e.mu.Unlock()

	e.indexer.Shutdown()
	if err := e.store.Shutdown(); err != nil {
		fmt.Println("[engine] shutdown store:", err)
		errlog.Errorf(errlog.ComponentStorage, "shutdown: %v", err)
	}
	if e.hist != nil {
		e.hist.Close()
	}
	errlog.Close()
}

func cloneItems(items []model.ItemStack) []model.ItemStack {
	out := make([]model.ItemStack, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

func itemsEqual(a, b []model.ItemStack) bool {
	return reflect.DeepEqual(a, cloneItems(b))
}
