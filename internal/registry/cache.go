package registry

import (
	"context"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/browsecore/browseserver/internal/store"
	"github.com/browsecore/browseserver/internal/telemetry"
)

// cacheKey composites the two-part identity a ToolDescription is looked up
// by, as a plain string concatenation with a "::" separator. Neither part is
// checked for the separator.
func cacheKey(modelID, toolName string) string {
	return modelID + "::" + toolName
}

// descriptionCacheSize bounds the in-memory LRU front. A typical deployment
// registers on the order of dozens of tools per model, so this comfortably
// covers several provider/model generations without eviction pressure.
const descriptionCacheSize = 512

// DescriptionCache is the two-tier cache in front of tool description
// generation: an in-memory LRU (hashicorp/golang-lru) backed by a SQLite
// ToolDescriptionStore. A persistence failure degrades to in-memory-only for
// the remainder of the run rather than failing the caller.
type DescriptionCache struct {
	lru     *lru.Cache[string, store.ToolDescription]
	store   *store.ToolDescriptionStore
	metrics *telemetry.Metrics
}

// WithMetrics attaches a Metrics recorder, returning the same cache for
// chaining at construction time. A nil Metrics records nothing.
func (c *DescriptionCache) WithMetrics(m *telemetry.Metrics) *DescriptionCache {
	c.metrics = m
	return c
}

// NewDescriptionCache wraps a ToolDescriptionStore with an in-memory LRU
// front. backing may be nil, in which case the cache operates purely
// in-memory (used by tests and by callers that have no persistence layer
// configured).
func NewDescriptionCache(backing *store.ToolDescriptionStore) *DescriptionCache {
	c, err := lru.New[string, store.ToolDescription](descriptionCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which never happens here.
		panic(err)
	}
	return &DescriptionCache{lru: c, store: backing}
}

// Get is a point lookup. A miss is reported via the second return value, not
// an error — a cold cache is an expected, unremarkable state.
func (c *DescriptionCache) Get(ctx context.Context, modelID, toolName string) (store.ToolDescription, bool) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanCacheLookup, attribute.String(telemetry.AttrToolName, toolName))
	defer span.End()

	key := cacheKey(modelID, toolName)
	if d, ok := c.lru.Get(key); ok {
		c.metrics.RecordCacheLookup(true)
		telemetry.MarkSpanResult(span, nil)
		return d, true
	}
	if c.store == nil {
		c.metrics.RecordCacheLookup(false)
		telemetry.MarkSpanResult(span, nil)
		return store.ToolDescription{}, false
	}
	d, ok, err := c.store.Get(ctx, modelID, toolName)
	if err != nil {
		log.Printf("[DescriptionCache] WARNING: persistent lookup failed for %s/%s: %v", modelID, toolName, err)
		c.metrics.RecordCacheLookup(false)
		telemetry.MarkSpanResult(span, err)
		return store.ToolDescription{}, false
	}
	if ok {
		c.lru.Add(key, d)
	}
	c.metrics.RecordCacheLookup(ok)
	telemetry.MarkSpanResult(span, nil)
	return d, ok
}

// Put is idempotent for the same (model, tool) key: a later Put overwrites
// an earlier one rather than accumulating history.
func (c *DescriptionCache) Put(ctx context.Context, modelID, toolName, description string, schema string, generationTimeMS int64) store.ToolDescription {
	now := time.Now().UTC()
	d := store.ToolDescription{
		ProviderModel:    modelID,
		ToolName:         toolName,
		Description:      description,
		ParametersInfo:   schema,
		GenerationTimeMS: generationTimeMS,
		QualityScore:     5,
		CreatedAt:        now,
		LastUsedAt:       now,
	}
	c.lru.Add(cacheKey(modelID, toolName), d)

	if c.store == nil {
		return d
	}
	if err := c.store.Put(ctx, d); err != nil {
		log.Printf("[DescriptionCache] WARNING: persistent store failed for %s/%s, continuing in-memory only: %v", modelID, toolName, err)
	}
	return d
}

// Touch increments usage stats without blocking the caller. Persistence runs
// on a background goroutine under its own short-lived context; failures are
// logged, never surfaced.
func (c *DescriptionCache) Touch(modelID, toolName string) {
	key := cacheKey(modelID, toolName)
	if d, ok := c.lru.Get(key); ok {
		d.UsageCount++
		d.LastUsedAt = time.Now().UTC()
		c.lru.Add(key, d)
	}
	if c.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.Touch(ctx, modelID, toolName); err != nil {
			log.Printf("[DescriptionCache] WARNING: touch failed for %s/%s: %v", modelID, toolName, err)
		}
	}()
}
