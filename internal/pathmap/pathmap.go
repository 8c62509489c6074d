// Package pathmap implements the Path Translator (spec §4.I): a pure,
// longest-prefix rewrite between manager/library/player filesystem
// views. No teacher analogue exists for this exact algorithm; written
// in the plain-function, no-framework style of small helpers like
// internal/metadata/scraper.go's titleSimilarity in the teacher.
package pathmap

import (
	"sort"
	"strings"

	"github.com/mediaforge/mediaforge/internal/models"
)

// Normalize converts path to forward slashes, strips any trailing
// slash, and forces a leading slash (spec §4.I step 1).
func Normalize(path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// Translate applies the longest-matching mapping's rewrite to path, or
// returns the normalized path unchanged if no mapping applies
// (spec §4.I steps 2-3).
func Translate(path string, mappings []models.PathMapping) string {
	normalized := Normalize(path)

	sorted := make([]models.PathMapping, len(mappings))
	copy(sorted, mappings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(Normalize(sorted[i].SourcePrefix)) > len(Normalize(sorted[j].SourcePrefix))
	})

	for _, m := range sorted {
		src := Normalize(m.SourcePrefix)
		if src == "/" {
			continue
		}
		if normalized == src || strings.HasPrefix(normalized, src+"/") {
			rest := strings.TrimPrefix(normalized, src)
			return Normalize(Normalize(m.TargetPrefix) + rest)
		}
	}
	return normalized
}

// FilterByScope returns the mappings scoped to (scope, key), used to
// pick the manager-type or player-group mapping set before calling
// Translate (spec §4.I "Two mapping kinds").
func FilterByScope(mappings []models.PathMapping, scope models.MappingScope, key string) []models.PathMapping {
	var out []models.PathMapping
	for _, m := range mappings {
		if m.Scope == scope && m.ScopeKey == key {
			out = append(out, m)
		}
	}
	return out
}
