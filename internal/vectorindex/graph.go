package vectorindex

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	sqlitevec "github.com/nicexipi/sqlite-vec"
)

// graph is a flat (single-layer) proximity graph: each live node keeps up
// to M neighbors chosen by distance at construction time. No hierarchical
// layers, per the engine's sizing: the vector counts involved don't justify
// HNSW's layered structure.
type graph struct {
	params    Params
	neighbors [][]int // neighbors[ordinal] -> up to M nearest ordinals
}

func newGraph(params Params) *graph {
	return &graph{params: params}
}

func (g *graph) empty() bool {
	return len(g.neighbors) == 0
}

// buildGraph constructs neighbor lists over a fully compacted, hole-free
// vector set. Each node's candidate list is capped by an overflow factor
// above M before being pruned back to M using a simple diversity rule: a
// candidate is skipped if it is within 1/alpha of the distance to an
// already-accepted neighbor (keeps the neighbor set from clustering in one
// direction).
func buildGraph(params Params, vectors [][]float32) *graph {
	g := &graph{params: params, neighbors: make([][]int, len(vectors))}
	if len(vectors) == 0 {
		return g
	}

	overflowCap := int(float64(params.M) * params.Overflow)
	if overflowCap < params.M {
		overflowCap = params.M
	}

	for i := range vectors {
		type cand struct {
			idx  int
			dist float64
		}
		candidates := make([]cand, 0, len(vectors)-1)
		for j := range vectors {
			if i == j {
				continue
			}
			candidates = append(candidates, cand{idx: j, dist: cosineDistance(vectors[i], vectors[j])})
		}
		sort.Slice(candidates, func(a, b int) bool { return candidates[a].dist < candidates[b].dist })
		if len(candidates) > overflowCap {
			candidates = candidates[:overflowCap]
		}

		selected := make([]int, 0, params.M)
		for _, c := range candidates {
			if len(selected) >= params.M {
				break
			}
			diverse := true
			for _, s := range selected {
				if cosineDistance(vectors[c.idx], vectors[s]) < c.dist/params.Alpha {
					diverse = false
					break
				}
			}
			if diverse {
				selected = append(selected, c.idx)
			}
		}
		g.neighbors[i] = selected
	}
	return g
}

// search runs a greedy beam search from a fixed entry point, expanding
// through neighbor lists up to ef candidates, and returns the top-k by
// cosine similarity. pred, if non-nil, prunes both the visited set and the
// final results.
func (g *graph) search(vectors [][]float32, query []float32, k, ef int, pred func(int) bool) []Result {
	if len(vectors) == 0 || len(g.neighbors) != len(vectors) {
		return nil
	}

	visited := make(map[int]bool)
	type scored struct {
		idx   int
		score float64
	}
	var frontier []scored

	entry := firstAllowed(vectors, pred)
	if entry < 0 {
		return nil
	}
	frontier = append(frontier, scored{idx: entry, score: cosineSimilarity(query, vectors[entry])})
	visited[entry] = true

	best := append([]scored(nil), frontier...)

	for len(frontier) > 0 {
		sort.Slice(frontier, func(a, b int) bool { return frontier[a].score > frontier[b].score })
		if len(frontier) > ef {
			frontier = frontier[:ef]
		}
		cur := frontier[0]
		frontier = frontier[1:]

		for _, n := range g.neighbors[cur.idx] {
			if visited[n] || vectors[n] == nil {
				continue
			}
			if pred != nil && !pred(n) {
				continue
			}
			visited[n] = true
			s := scored{idx: n, score: cosineSimilarity(query, vectors[n])}
			frontier = append(frontier, s)
			best = append(best, s)
		}
	}

	sort.Slice(best, func(a, b int) bool { return best[a].score > best[b].score })
	if len(best) > k {
		best = best[:k]
	}
	out := make([]Result, len(best))
	for i, b := range best {
		out[i] = Result{Ordinal: b.idx, Score: b.score}
	}
	return out
}

func firstAllowed(vectors [][]float32, pred func(int) bool) int {
	for i, v := range vectors {
		if v == nil {
			continue
		}
		if pred == nil || pred(i) {
			return i
		}
	}
	return -1
}

func cosineSimilarity(a, b []float32) float64 {
	return sqlitevec.CosineSimilarity(toF64(a), toF64(b))
}

func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

func toF64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

const graphHeaderSize = 24

// writeGraph persists dim, vector count, params, the vectors (or a hole
// marker), and each node's neighbor list.
func writeGraph(w io.Writer, dim int, params Params, vectors [][]float32, g *graph) error {
	header := make([]byte, graphHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(dim))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(vectors)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(params.M))
	binary.LittleEndian.PutUint32(header[12:16], uint32(params.EfConstruction))
	binary.LittleEndian.PutUint32(header[16:20], uint32(params.EfSearch))
	// header[20:24] reserved
	if _, err := w.Write(header); err != nil {
		return err
	}

	for i, v := range vectors {
		hole := uint8(0)
		if v == nil {
			hole = 1
		}
		if _, err := w.Write([]byte{hole}); err != nil {
			return err
		}
		if hole == 0 {
			for _, x := range v {
				if err := binary.Write(w, binary.LittleEndian, x); err != nil {
					return err
				}
			}
		}
		neighbors := g.neighbors[i]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(neighbors))); err != nil {
			return err
		}
		for _, n := range neighbors {
			if err := binary.Write(w, binary.LittleEndian, uint32(n)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readGraph(r io.Reader, params Params) ([][]float32, *graph, int, error) {
	header := make([]byte, graphHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, 0, fmt.Errorf("read header: %w", err)
	}
	dim := int(binary.LittleEndian.Uint32(header[0:4]))
	count := int(binary.LittleEndian.Uint32(header[4:8]))
	params.M = int(binary.LittleEndian.Uint32(header[8:12]))
	params.EfConstruction = int(binary.LittleEndian.Uint32(header[12:16]))
	params.EfSearch = int(binary.LittleEndian.Uint32(header[16:20]))

	vectors := make([][]float32, count)
	g := &graph{params: params, neighbors: make([][]int, count)}

	for i := 0; i < count; i++ {
		holeByte := make([]byte, 1)
		if _, err := io.ReadFull(r, holeByte); err != nil {
			return nil, nil, 0, fmt.Errorf("read hole marker: %w", err)
		}
		if holeByte[0] == 0 {
			v := make([]float32, dim)
			for j := 0; j < dim; j++ {
				if err := binary.Read(r, binary.LittleEndian, &v[j]); err != nil {
					return nil, nil, 0, fmt.Errorf("read vector component: %w", err)
				}
			}
			vectors[i] = v
		}
		var neighborCount uint32
		if err := binary.Read(r, binary.LittleEndian, &neighborCount); err != nil {
			return nil, nil, 0, fmt.Errorf("read neighbor count: %w", err)
		}
		neighbors := make([]int, neighborCount)
		for j := range neighbors {
			var n uint32
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return nil, nil, 0, fmt.Errorf("read neighbor: %w", err)
			}
			neighbors[j] = int(n)
		}
		g.neighbors[i] = neighbors
	}

	return vectors, g, dim, nil
}
