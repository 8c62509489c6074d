// Package scoring implements the Scoring & Selection Engine
// (spec §4.G): filter by minimums and blacklist, score each survivor
// on the five-term weighted formula, sort with deterministic
// tie-breaks, deduplicate by perceptual hash, and select the top
// max_count under the library's automation mode. Grounded on the
// teacher's title-similarity-then-confidence-boost pattern in
// internal/metadata/scraper.go (deterministic scoring, stable sort,
// small positional adjustments) generalized from "best metadata match"
// to "best asset candidate".
package scoring

import (
	"encoding/hex"
	"math"
	"sort"
	"strconv"

	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/phash"
)

// targetPixels approximates 4K resolution (spec §4.G.2 "R").
const targetPixels = 3840.0 * 2160.0

// DefaultProviderQuality is the fixed per-provider quality table used
// by the P term (spec §4.G.2 "a fixed table per provider").
func DefaultProviderQuality() map[string]float64 {
	return map[string]float64{
		"fanarttv": 1.0,
		"tmdb":     0.8,
		"tvdb":     0.6,
		"local":    0.5,
	}
}

// Config carries the library-level tunables the scoring formula needs
// (spec §4.G.2-5).
type Config struct {
	Weights          models.ScoringWeights
	MinWidth         int
	MinHeight        int
	PreferredLanguage string
	ProviderQuality  map[string]float64
	DedupThreshold   float64
	MaxCount         int
	Mode             models.AutomationMode
}

// IsBlacklisted reports whether (provider, url) has been globally
// rejected (spec §4.G "Rejection").
type IsBlacklisted func(provider, url string) bool

// Result is the outcome of running Select over one (MediaItem,
// asset-type) candidate set.
type Result struct {
	Selected []models.AssetCandidate
	Rejected []models.AssetCandidate // filtered out by minimums/blacklist, or deduped away
}

// Select runs the full pipeline described in spec §4.G.1-5 over
// candidates for a single asset type and marks the winners according
// to mode (spec §4.G "Modes").
func Select(candidates []models.AssetCandidate, assetType models.AssetType, cfg Config, blacklisted IsBlacklisted) Result {
	quality := cfg.ProviderQuality
	if quality == nil {
		quality = DefaultProviderQuality()
	}

	var survivors []models.AssetCandidate
	var rejected []models.AssetCandidate
	for _, c := range candidates {
		if c.IsRejected || (blacklisted != nil && blacklisted(c.Provider, c.SourceURL)) {
			rejected = append(rejected, c)
			continue
		}
		if c.Width < cfg.MinWidth || c.Height < cfg.MinHeight {
			rejected = append(rejected, c)
			continue
		}
		c.Score = score(c, assetType, cfg, quality)
		survivors = append(survivors, c)
	}

	sortCandidates(survivors, quality)

	kept := dedupe(survivors, cfg.DedupThreshold)
	var overflow []models.AssetCandidate
	if len(kept) > cfg.MaxCount && cfg.MaxCount > 0 {
		overflow = kept[cfg.MaxCount:]
		kept = kept[:cfg.MaxCount]
	}
	rejected = append(rejected, overflow...)

	switch cfg.Mode {
	case models.AutomationYOLO, models.AutomationHybrid:
		by := models.SelectedByAuto
		for i := range kept {
			kept[i].IsSelected = true
			kept[i].SelectedBy = by
		}
	case models.AutomationManual:
		// Scoring runs but nothing is marked selected; the caller
		// presents ranked candidates to the user (spec §4.G "Manual").
	}

	return Result{Selected: kept, Rejected: rejected}
}

// score computes the five-term weighted formula (spec §4.G.2).
func score(c models.AssetCandidate, assetType models.AssetType, cfg Config, quality map[string]float64) float64 {
	r := math.Min(100, (float64(c.Width)*float64(c.Height)/targetPixels)*100)

	v := clamp(float64(c.VoteCount)/100*50, 0, 50) + (c.VoteAverage/10)*50
	v = clamp(v, 0, 100)

	l := 0.0
	if cfg.PreferredLanguage != "" && c.Language == cfg.PreferredLanguage {
		l = 100
	}

	p := quality[c.Provider] * 100

	ideal := models.IdealAspectRatio(assetType)
	actual := c.AspectRatio()
	a := 100 - math.Min(100, math.Abs(ideal-actual)*200)

	w := cfg.Weights
	return w.Resolution*r + w.Votes*v + w.Language*l + w.Provider*p + w.Aspect*a
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sortCandidates sorts descending by score, breaking ties by provider
// priority, then resolution, then lexicographic source URL
// (spec §4.G.3).
func sortCandidates(candidates []models.AssetCandidate, quality map[string]float64) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		pa, pb := quality[a.Provider], quality[b.Provider]
		if pa != pb {
			return pa > pb
		}
		resA, resB := a.Width*a.Height, b.Width*b.Height
		if resA != resB {
			return resA > resB
		}
		return a.SourceURL < b.SourceURL
	})
}

// dedupe removes near-duplicate candidates, keeping the earlier
// (higher-scored, since the slice is already sorted) entry of each
// cluster (spec §4.G.4).
func dedupe(sorted []models.AssetCandidate, threshold float64) []models.AssetCandidate {
	if threshold <= 0 {
		threshold = 0.92
	}
	return phash.Dedup(sorted,
		func(c models.AssetCandidate) uint64 { return candidateHash(c) },
		func(c models.AssetCandidate) float64 { return c.Score },
		threshold,
	)
}

// candidateHash resolves the 64-bit value phash.Dedup hashes
// candidates by. When a candidate has no perceptual hash yet (not
// downloaded/cached), its ID stands in so two not-yet-hashed
// candidates don't spuriously collide; they get a real dedup pass
// once caching computes their actual hash (spec §4.F Phase 3).
func candidateHash(c models.AssetCandidate) uint64 {
	if c.PerceptualHash != nil && *c.PerceptualHash != "" {
		return parseHash(c.PerceptualHash)
	}
	b := c.ID
	var seed uint64
	for i := 0; i < 8 && i < len(b); i++ {
		seed = seed<<8 | uint64(b[i])
	}
	return seed
}

// parseHash decodes a candidate's stored hex perceptual hash.
func parseHash(h *string) uint64 {
	if h == nil || *h == "" {
		return 0
	}
	// Only the first 16 hex chars (64 bits) are meaningful.
	s := *h
	if len(s) > 16 {
		s = s[:16]
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		// Fall back to treating the raw bytes as an opaque seed rather
		// than failing candidate selection over a malformed hash.
		b, decErr := hex.DecodeString(s)
		if decErr != nil || len(b) == 0 {
			return 0
		}
		var seed uint64
		for _, by := range b {
			seed = seed<<8 | uint64(by)
		}
		return seed
	}
	return v
}
