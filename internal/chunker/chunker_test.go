package chunker

import (
	"strings"
	"testing"

	"kitsune/internal/model"
)

func TestSplit_GroupsByDeepestPath(t *testing.T) {
	c := New()
	items := []model.ItemStack{
		{Slot: 0, MaterialID: "DIAMOND", Amount: 5},
		{Slot: 1, MaterialID: "IRON_PICKAXE", Amount: 1},
		{
			Slot: 2, MaterialID: "ARROW", Amount: 16,
			Path: model.ContainerPath{{Type: model.PathNodeShulker, Slot: 2, Color: "blue"}},
		},
		{
			Slot: 5, MaterialID: "TNT", Amount: 3,
			Path: model.ContainerPath{{Type: model.PathNodeShulker, Slot: 2, Color: "blue"}},
		},
	}

	chunks := c.Split(items)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ChunkIndex != 0 || chunks[1].ChunkIndex != 1 {
		t.Fatalf("expected preorder chunk_index 0,1, got %d,%d", chunks[0].ChunkIndex, chunks[1].ChunkIndex)
	}
	if !strings.Contains(chunks[0].ContentText, "DIAMOND") || !strings.Contains(chunks[0].ContentText, "IRON_PICKAXE") {
		t.Fatalf("root chunk missing root items: %q", chunks[0].ContentText)
	}
	if !strings.Contains(chunks[1].ContentText, "ARROW") || !strings.Contains(chunks[1].ContentText, "TNT") {
		t.Fatalf("shulker chunk missing nested items: %q", chunks[1].ContentText)
	}
	if !strings.Contains(chunks[1].ContentText, "shulker") {
		t.Fatalf("shulker chunk missing path header: %q", chunks[1].ContentText)
	}
}

func TestSplit_EmptyItems(t *testing.T) {
	c := New()
	if chunks := c.Split(nil); chunks != nil {
		t.Fatalf("expected nil for no items, got %+v", chunks)
	}
}

func TestSplit_TagProvidersAppended(t *testing.T) {
	oreTag := func(item model.ItemStack) []string {
		if strings.Contains(item.MaterialID, "ORE") {
			return []string{"ore"}
		}
		return nil
	}
	c := New(oreTag)
	items := []model.ItemStack{{Slot: 0, MaterialID: "DIAMOND_ORE", Amount: 2}}
	chunks := c.Split(items)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].ContentText, "[ore]") {
		t.Fatalf("expected tag provider output in content, got %q", chunks[0].ContentText)
	}
}

func TestSplit_DisplayNameOmittedWhenSameAsMaterial(t *testing.T) {
	c := New()
	items := []model.ItemStack{{Slot: 0, MaterialID: "STONE", DisplayName: "STONE", Amount: 1}}
	chunks := c.Split(items)
	if strings.Count(chunks[0].ContentText, "STONE") != 1 {
		t.Fatalf("expected material name not duplicated as display name: %q", chunks[0].ContentText)
	}
}
