// Package queryexpand widens query recall with a static dictionary of
// material, category and synonym relations before the query reaches the
// embedding service.
package queryexpand

import "strings"

// dictionary maps a lowercase token to the set of tokens it should pull
// into the expanded query. Entries are intentionally small and literal;
// the pipeline does not attempt fuzzy matching or stemming beyond basic
// plural stripping.
var dictionary = map[string][]string{
	"diamond":  {"diamond pickaxe", "diamond sword", "diamond axe", "diamond shovel", "diamond ore", "diamond block", "deepslate diamond ore"},
	"iron":     {"iron pickaxe", "iron sword", "iron ingot", "iron ore", "iron block", "iron nugget"},
	"gold":     {"gold ingot", "gold nugget", "gold ore", "golden apple", "golden pickaxe"},
	"wood":     {"oak log", "spruce log", "birch log", "plank", "stick"},
	"food":     {"bread", "apple", "cooked beef", "cooked porkchop", "carrot", "potato", "golden apple"},
	"tools":    {"pickaxe", "axe", "shovel", "hoe"},
	"weapons":  {"sword", "bow", "crossbow", "trident"},
	"valuables": {"diamond", "emerald", "netherite", "gold ingot"},
	"pick":     {"pickaxe"},
	"ore":      {"coal ore", "iron ore", "gold ore", "diamond ore", "redstone ore", "lapis ore"},
	"potion":   {"splash potion", "lingering potion", "potion of healing", "potion of swiftness"},
	"armor":    {"helmet", "chestplate", "leggings", "boots"},
}

// Expand tokenizes query lowercase, looks up each token in the static
// dictionary, and returns the original tokens concatenated with the union
// of their expansions, preserving order and deduplicating.
func Expand(query string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(tok string) {
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}

	var expansions []string
	for _, raw := range strings.Fields(strings.ToLower(query)) {
		tok := stripPlural(raw)
		add(tok)
		if exp, ok := dictionary[raw]; ok {
			expansions = append(expansions, exp...)
		} else {
			expansions = append(expansions, dictionary[tok]...)
		}
	}
	for _, expansion := range expansions {
		add(expansion)
	}
	return out
}

// stripPlural removes a trailing "es" or "s" when doing so still leaves a
// token of at least 3 characters, a conservative heuristic that avoids
// mangling short words like "ax" or "ore".
func stripPlural(tok string) string {
	switch {
	case strings.HasSuffix(tok, "es") && len(tok) > 4:
		return tok[:len(tok)-2]
	case strings.HasSuffix(tok, "s") && len(tok) > 3:
		return tok[:len(tok)-1]
	default:
		return tok
	}
}
