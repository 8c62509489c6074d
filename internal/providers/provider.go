// Package providers implements the Provider Registry & Adapters
// component (spec §4.D): a capability-declaring adapter interface,
// a name-to-constructor registry, and an orchestrator that fans out
// to enabled adapters under one of three merge strategies. Grounded
// on the teacher's internal/metadata/scraper.go Scraper interface
// (Search/GetDetails/Name) and its title-similarity matching helper;
// generalized from "one scraper, best match wins" to "N adapters,
// configurable merge strategy" per spec §4.D.
package providers

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/mediaforge/mediaforge/internal/models"
)

// SearchResult is one candidate match returned by an adapter's Search.
type SearchResult struct {
	ProviderResultID string
	Title            string
	Year             int
	Confidence       float64
}

// MetadataResponse is an adapter's answer to GetMetadata: a bag of
// field values plus a self-reported completeness score used to break
// ties in aggregate-all strategy (spec §4.D "highest-quality provider").
type MetadataResponse struct {
	Fields       map[string]interface{}
	Completeness float64
}

// AssetCandidateDraft is an AssetCandidate before it has a content
// hash (spec §4.D "getAssets -> [AssetCandidate-without-hash]").
type AssetCandidateDraft struct {
	Provider    string
	AssetType   models.AssetType
	SourceURL   string
	Width       int
	Height      int
	Language    string
	VoteCount   int
	VoteAverage float64
}

// ConnectionStatus is the result of testConnection.
type ConnectionStatus struct {
	OK      bool
	Message string
}

// Capabilities is an adapter's static self-description (spec §4.D
// "id, supported entity types, ... authentication mode, rate limits,
// search features, and quality indicators").
type Capabilities struct {
	ID                string
	EntityTypes       []models.MediaItemKind
	AssetTypes        map[models.MediaItemKind][]models.AssetType
	MetadataFields     map[models.MediaItemKind][]string
	RequiresAuth      bool
	Priority          float64 // P term input, spec §4.G step 2
}

// Adapter is the orchestrator's view of a metadata/asset provider
// (spec §4.D "Adapter surface").
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Search(ctx context.Context, query string, year int, externalIDs map[string]string) ([]SearchResult, error)
	GetMetadata(ctx context.Context, entityType models.MediaItemKind, providerResultID string) (MetadataResponse, error)
	GetAssets(ctx context.Context, entityType models.MediaItemKind, providerResultID string, assetTypes []models.AssetType) ([]AssetCandidateDraft, error)
	TestConnection(ctx context.Context) ConnectionStatus
}

// Registry maps a provider id to its Adapter instance. Construction
// (wiring API keys, rate limits) happens at startup in cmd/mediaforge;
// the registry itself just holds the live adapters (spec §4.D "registry
// holds a mapping from provider id to adapter constructor" — here
// already-constructed, since every adapter in this deployment shares
// one process lifetime).
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds or replaces the adapter for its own Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name, or nil.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// Ordered returns adapters named in priority, in that order, skipping
// any name with no registered adapter.
func (r *Registry) Ordered(priority []string) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(priority))
	for _, name := range priority {
		if a, ok := r.adapters[name]; ok {
			out = append(out, a)
		}
	}
	return out
}

// All returns every registered adapter in no particular order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// FieldMapping binds one metadata field name to the single provider
// that should supply it (spec §4.D strategy 2, "Field mapping").
type FieldMapping map[string]string

// Orchestrator fans out to a library's enabled adapters under its
// configured strategy (spec §4.D).
type Orchestrator struct {
	registry *Registry
	logger   *log.Logger
}

// NewOrchestrator builds an Orchestrator over registry.
func NewOrchestrator(registry *Registry, logger *log.Logger) *Orchestrator {
	return &Orchestrator{registry: registry, logger: logger}
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}

// EnrichResult is the merged outcome of one Enrich call: the field
// values to apply (subject to the Field-Lock Arbiter by the caller)
// and every asset candidate gathered from every enabled provider
// (spec §4.D "asset candidates are ALWAYS aggregated from every
// enabled provider").
type EnrichResult struct {
	Fields  map[string]interface{}
	Assets  []AssetCandidateDraft
}

// resolved pairs one adapter with its resolved providerResultID, so
// asset/metadata calls can be keyed back to it.
type resolved struct {
	adapter          Adapter
	providerResultID string
}

// Enrich runs the full per-item enrichment fan-out: resolve each
// enabled provider's best search match, fetch metadata under the
// chosen strategy, and always aggregate assets from every provider
// (spec §4.F Phase 4 step 1, §4.D).
func (o *Orchestrator) Enrich(ctx context.Context, strategy models.OrchestrationStrategy, providerPriority []string, fieldMapping FieldMapping, entityType models.MediaItemKind, query string, year int, externalIDs map[string]string, wantAssetTypes []models.AssetType) EnrichResult {
	adapters := o.registry.Ordered(providerPriority)
	if len(adapters) == 0 {
		adapters = o.registry.All()
	}

	resolvedList := o.resolveAll(ctx, adapters, entityType, query, year, externalIDs)

	var fields map[string]interface{}
	switch strategy {
	case models.StrategyFieldMapping:
		fields = o.mergeFieldMapping(ctx, resolvedList, fieldMapping, entityType)
	case models.StrategyAggregateAll:
		fields = o.mergeAggregateAll(ctx, resolvedList, entityType)
	default:
		fields = o.mergePreferredFirst(ctx, resolvedList, entityType)
	}

	assets := o.aggregateAssets(ctx, resolvedList, entityType, wantAssetTypes)
	return EnrichResult{Fields: fields, Assets: assets}
}

func (o *Orchestrator) resolveAll(ctx context.Context, adapters []Adapter, entityType models.MediaItemKind, query string, year int, externalIDs map[string]string) []resolved {
	slots := make([]*resolved, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			results, err := a.Search(ctx, query, year, externalIDs)
			if err != nil {
				o.logf("providers: %s search failed for %q: %v", a.Name(), query, err)
				return
			}
			best := bestMatch(results, query, year)
			if best == "" {
				return
			}
			slots[i] = &resolved{adapter: a, providerResultID: best}
		}(i, a)
	}
	wg.Wait()
	var out []resolved
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// bestMatch picks the SearchResult with highest confidence, breaking
// ties toward an exact year match (grounded on the teacher's
// titleSimilarity-based best-match selection in scraper.go).
func bestMatch(results []SearchResult, query string, year int) string {
	if len(results) == 0 {
		return ""
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		iYear := year != 0 && results[i].Year == year
		jYear := year != 0 && results[j].Year == year
		if iYear != jYear {
			return iYear
		}
		return strings.ToLower(results[i].Title) < strings.ToLower(results[j].Title)
	})
	return results[0].ProviderResultID
}

func (o *Orchestrator) mergePreferredFirst(ctx context.Context, resolvedList []resolved, entityType models.MediaItemKind) map[string]interface{} {
	merged := map[string]interface{}{}
	for _, r := range resolvedList {
		resp, err := r.adapter.GetMetadata(ctx, entityType, r.providerResultID)
		if err != nil {
			o.logf("providers: %s getMetadata failed: %v", r.adapter.Name(), err)
			continue
		}
		for field, val := range resp.Fields {
			if _, set := merged[field]; !set {
				merged[field] = val
			}
		}
	}
	return merged
}

func (o *Orchestrator) mergeFieldMapping(ctx context.Context, resolvedList []resolved, mapping FieldMapping, entityType models.MediaItemKind) map[string]interface{} {
	byName := map[string]resolved{}
	for _, r := range resolvedList {
		byName[r.adapter.Name()] = r
	}
	merged := map[string]interface{}{}
	fetched := map[string]MetadataResponse{}
	for field, providerName := range mapping {
		r, ok := byName[providerName]
		if !ok {
			continue
		}
		resp, ok := fetched[providerName]
		if !ok {
			var err error
			resp, err = r.adapter.GetMetadata(ctx, entityType, r.providerResultID)
			if err != nil {
				o.logf("providers: %s getMetadata failed: %v", providerName, err)
				continue
			}
			fetched[providerName] = resp
		}
		if val, ok := resp.Fields[field]; ok {
			merged[field] = val
		}
	}
	return merged
}

func (o *Orchestrator) mergeAggregateAll(ctx context.Context, resolvedList []resolved, entityType models.MediaItemKind) map[string]interface{} {
	type fieldWinner struct {
		value        interface{}
		completeness float64
	}
	winners := map[string]fieldWinner{}
	for _, r := range resolvedList {
		resp, err := r.adapter.GetMetadata(ctx, entityType, r.providerResultID)
		if err != nil {
			o.logf("providers: %s getMetadata failed: %v", r.adapter.Name(), err)
			continue
		}
		for field, val := range resp.Fields {
			if cur, ok := winners[field]; !ok || resp.Completeness > cur.completeness {
				winners[field] = fieldWinner{value: val, completeness: resp.Completeness}
			}
		}
	}
	merged := make(map[string]interface{}, len(winners))
	for field, w := range winners {
		merged[field] = w.value
	}
	return merged
}

func (o *Orchestrator) aggregateAssets(ctx context.Context, resolvedList []resolved, entityType models.MediaItemKind, wantAssetTypes []models.AssetType) []AssetCandidateDraft {
	var mu sync.Mutex
	var out []AssetCandidateDraft
	var wg sync.WaitGroup
	for _, r := range resolvedList {
		wg.Add(1)
		go func(r resolved) {
			defer wg.Done()
			assets, err := r.adapter.GetAssets(ctx, entityType, r.providerResultID, wantAssetTypes)
			if err != nil {
				o.logf("providers: %s getAssets failed: %v", r.adapter.Name(), err)
				return
			}
			for i := range assets {
				assets[i].Provider = r.adapter.Name()
			}
			mu.Lock()
			out = append(out, assets...)
			mu.Unlock()
		}(r)
	}
	wg.Wait()
	return out
}
