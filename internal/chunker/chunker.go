// Package chunker groups a container's item snapshot into per-nested-container
// text chunks suitable for embedding.
package chunker

import (
	"fmt"
	"sort"
	"strings"

	"kitsune/internal/model"
)

// TagProvider is a host-agnostic, pure, idempotent extension hook: given an
// item it returns zero or more tag strings to append to that item's chunk
// line (e.g. "ore", "weapon", "enchanted").
type TagProvider func(model.ItemStack) []string

// Chunker groups items by the deepest container in their container_path and
// renders one chunk per group.
type Chunker struct {
	Providers []TagProvider
}

// New creates a Chunker with the given tag providers.
func New(providers ...TagProvider) *Chunker {
	return &Chunker{Providers: providers}
}

// group holds the items that share one container_path, in first-seen order.
type group struct {
	path  model.ContainerPath
	key   string
	items []model.ItemStack
}

// Split groups items by their deepest container (identical container_path),
// one chunk per group, with chunk_index assigned in path-preorder — the
// order in which distinct paths are first encountered while walking items
// in slot order, which matches a preorder traversal of the nesting tree
// since a host reports outer slots before the items nested within them.
func (c *Chunker) Split(items []model.ItemStack) []model.Chunk {
	if len(items) == 0 {
		return nil
	}

	sorted := make([]model.ItemStack, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Slot < sorted[j].Slot })

	var order []string
	groups := make(map[string]*group)
	for _, item := range sorted {
		key := pathKey(item.Path)
		g, ok := groups[key]
		if !ok {
			g = &group{path: item.Path, key: key}
			groups[key] = g
			order = append(order, key)
		}
		g.items = append(g.items, item)
	}

	chunks := make([]model.Chunk, 0, len(order))
	for i, key := range order {
		g := groups[key]
		chunks = append(chunks, model.Chunk{
			ContentText: c.render(g),
			Path:        g.path,
			ChunkIndex:  i,
		})
	}
	return chunks
}

// render builds the canonical newline-separated content text for one group.
func (c *Chunker) render(g *group) string {
	var b strings.Builder
	if len(g.path) > 0 {
		b.WriteString(pathHeader(g.path))
		b.WriteByte('\n')
	}
	for _, item := range g.items {
		fmt.Fprintf(&b, "slot %d: %s x%d", item.Slot, item.MaterialID, item.Amount)
		if item.DisplayName != "" && item.DisplayName != item.MaterialID {
			fmt.Fprintf(&b, " (%s)", item.DisplayName)
		}
		var tags []string
		for _, provider := range c.Providers {
			tags = append(tags, provider(item)...)
		}
		if len(tags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(tags, ", "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// pathKey renders a container_path into a stable string usable as a map key.
func pathKey(path model.ContainerPath) string {
	var b strings.Builder
	for _, node := range path {
		fmt.Fprintf(&b, "/%s:%d:%s:%s", node.Type, node.Slot, node.Color, node.CustomName)
	}
	return b.String()
}

// pathHeader renders a human-readable breadcrumb for a nested container,
// e.g. "in shulker[slot 2, blue] > bundle[slot 1]".
func pathHeader(path model.ContainerPath) string {
	parts := make([]string, len(path))
	for i, node := range path {
		switch node.Type {
		case model.PathNodeShulker:
			if node.Color != "" {
				parts[i] = fmt.Sprintf("shulker[slot %d, %s]", node.Slot, node.Color)
			} else {
				parts[i] = fmt.Sprintf("shulker[slot %d]", node.Slot)
			}
		case model.PathNodeBundle:
			parts[i] = fmt.Sprintf("bundle[slot %d]", node.Slot)
		default:
			name := node.CustomName
			if name == "" {
				name = "container"
			}
			parts[i] = fmt.Sprintf("%s[slot %d]", name, node.Slot)
		}
	}
	return "in " + strings.Join(parts, " > ")
}
