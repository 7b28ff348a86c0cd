// Package querypipeline implements the query-side fusion of domain query
// expansion, embedding, oversampled ANN search and hybrid reranking (C5).
package querypipeline

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"kitsune/internal/embedding"
	"kitsune/internal/errlog"
	"kitsune/internal/hybridstore"
	"kitsune/internal/metadatastore"
	"kitsune/internal/model"
	"kitsune/internal/queryexpand"
)

// oversampleFactor is how many extra candidates the ANN stage is asked for
// before reranking trims back down to the caller's limit.
const oversampleFactor = 3

// previewLen is the number of content_text runes shown before truncation.
const previewLen = 100

// Result is one ranked, enriched hit returned by Find.
type Result struct {
	ContainerID string
	Primary     model.Position
	ContentText string
	Preview     string
	Path        model.ContainerPath
	Semantic    float64
	Keyword     float64
	Final       float64
}

// Pipeline wires query expansion, embedding and the hybrid store together.
type Pipeline struct {
	Embedder embedding.Service
	Store    *hybridstore.Store
	Meta     *metadatastore.Store
	Alpha    float64 // weight given to semantic score vs keyword overlap
}

// New builds a Pipeline. alpha must be in [0,1]; callers should clamp it
// from configuration before construction.
func New(embedder embedding.Service, store *hybridstore.Store, meta *metadatastore.Store, alpha float64) *Pipeline {
	return &Pipeline{Embedder: embedder, Store: store, Meta: meta, Alpha: alpha}
}

// Find runs the unfiltered query pipeline: expand, embed, oversampled ANN
// search, hybrid rerank, threshold gate, enrich.
func (p *Pipeline) Find(query string, limit int) ([]Result, error) {
	return p.find(query, limit, nil)
}

// FindWithinRadius runs the same pipeline but constrains the ANN search to
// an allow-set built from a spatial pre-filter, and drops any candidate
// whose exact distance still exceeds the radius.
func (p *Pipeline) FindWithinRadius(query string, limit int, center model.Position, radius int) ([]Result, error) {
	return p.findRadius(query, limit, center, radius)
}

func (p *Pipeline) find(query string, limit int, allow map[int]bool) ([]Result, error) {
	tokens := queryexpand.Expand(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	expanded := strings.Join(tokens, " ")

	vec, err := p.Embedder.Embed(expanded, embedding.RoleQuery)
	if err != nil {
		return nil, fmt.Errorf("querypipeline: embed query: %w", err)
	}

	oversample := limit * oversampleFactor
	hits, err := p.Store.Search(vec, oversample)
	if err != nil {
		return nil, fmt.Errorf("querypipeline: search: %w", err)
	}
	return p.rerankAndGate(hits, tokens, limit)
}

func (p *Pipeline) findRadius(query string, limit int, center model.Position, radius int) ([]Result, error) {
	tokens := queryexpand.Expand(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	expanded := strings.Join(tokens, " ")

	vec, err := p.Embedder.Embed(expanded, embedding.RoleQuery)
	if err != nil {
		return nil, fmt.Errorf("querypipeline: embed query: %w", err)
	}

	oversample := limit * oversampleFactor
	hits, err := p.Store.SearchWithinRadius(vec, oversample, center, radius)
	if err != nil {
		return nil, fmt.Errorf("querypipeline: searchWithinRadius: %w", err)
	}
	return p.rerankAndGate(hits, tokens, limit)
}

// rerankAndGate fuses semantic and keyword scores, drops anything below the
// persisted threshold, sorts descending, truncates to limit and enriches
// each survivor with preview/position/path data.
func (p *Pipeline) rerankAndGate(hits []hybridstore.Result, tokens []string, limit int) ([]Result, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	threshold, err := p.Meta.GetThreshold()
	if err != nil {
		log.Printf("[query] getThreshold failed, proceeding without gate: %v", err)
		errlog.Errorf(errlog.ComponentQuery, "getThreshold failed, proceeding without gate: %v", err)
		threshold = 0
	}

	reranked := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		kw := keywordScore(tokens, h.Row.ContentText)
		final := p.Alpha*h.Score + (1-p.Alpha)*kw
		reranked = append(reranked, Result{
			ContainerID: h.Row.ContainerID,
			Primary:     h.Row.Primary,
			ContentText: h.Row.ContentText,
			Preview:     preview(h.Row.ContentText),
			Path:        h.Row.ContainerPath,
			Semantic:    h.Score,
			Keyword:     kw,
			Final:       final,
		})
	}

	sort.SliceStable(reranked, func(i, j int) bool { return reranked[i].Final > reranked[j].Final })
	if len(reranked) > limit {
		reranked = reranked[:limit]
	}
	return reranked, nil
}

// keywordScore computes the fraction of expanded query tokens that appear
// in content, a normalized token-overlap score in [0,1].
func keywordScore(tokens []string, content string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// preview returns the first previewLen runes of content, suffixed with
// "..." if truncated.
func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLen {
		return content
	}
	return string(r[:previewLen]) + "..."
}
