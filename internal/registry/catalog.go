// Package registry implements the Tool Registry & Description Cache: it
// resolves each declared tool's description from a cache or an external
// generator at startup, tolerating per-tool generation failures, and serves
// the resulting catalog read-only for the lifetime of the process.
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/tool"
)

// genTimeout bounds a single description-generation call. The generator is
// an external AI service and typically takes on the order of tens of
// seconds; a startup that hangs indefinitely on one tool is worse than one
// degraded description.
const genTimeout = 90 * time.Second

// CatalogEntry is the read-only projection returned by List, extending
// tool.ToolInfo with the cache's verdict on how the description was sourced.
type CatalogEntry struct {
	tool.ToolInfo
	DescriptionDegraded bool
}

// Catalog wraps a tool.Registry with description resolution. Build once at
// startup via NewCatalog + Initialize; after Initialize returns, the catalog
// is read-only and safe for concurrent List/Lookup calls.
type Catalog struct {
	registry  *tool.Registry
	cache     *DescriptionCache
	generator DescriptionGenerator
	modelID   string

	mu      sync.RWMutex
	entries []CatalogEntry
	byName  map[string]CatalogEntry
}

// NewCatalog constructs a Catalog. generator may be nil, in which case every
// tool falls back to its hand-written description (or a placeholder).
func NewCatalog(registry *tool.Registry, cache *DescriptionCache, generator DescriptionGenerator, modelID string) *Catalog {
	return &Catalog{
		registry:  registry,
		cache:     cache,
		generator: generator,
		modelID:   modelID,
		byName:    make(map[string]CatalogEntry),
	}
}

// Initialize resolves a description for every tool currently in the
// registry. A generation failure for one tool is logged and that tool
// registers with a fallback description and DescriptionDegraded=true; it
// never prevents the remaining tools from being cataloged.
func (c *Catalog) Initialize(ctx context.Context) error {
	tools := c.registry.List()
	entries := make([]CatalogEntry, 0, len(tools))
	byName := make(map[string]CatalogEntry, len(tools))

	for _, t := range tools {
		entry := c.resolveEntry(ctx, t)
		entries = append(entries, entry)
		byName[entry.Name] = entry
		if entry.DescriptionDegraded {
			log.Printf("[Catalog] degraded description for tool %q (model=%s)", entry.Name, c.modelID)
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.byName = byName
	c.mu.Unlock()
	return nil
}

func (c *Catalog) resolveEntry(ctx context.Context, t tool.Tool) CatalogEntry {
	info := tool.Info(t)

	if cached, ok := c.cache.Get(ctx, c.modelID, info.Name); ok {
		c.cache.Touch(c.modelID, info.Name)
		info.Description = cached.Description
		return CatalogEntry{ToolInfo: info, DescriptionDegraded: false}
	}

	if c.generator == nil {
		if info.Description == "" {
			info.Description = "No description available for this tool."
		}
		return CatalogEntry{ToolInfo: info, DescriptionDegraded: true}
	}

	genCtx, cancel := context.WithTimeout(ctx, genTimeout)
	defer cancel()

	start := time.Now()
	description, err := c.generator.Generate(genCtx, info.Name, info.InputSchema)
	elapsed := time.Since(start)
	if err != nil {
		log.Printf("[Catalog] description generation failed for %q: %v", info.Name, err)
		if info.Description == "" {
			info.Description = "No description available for this tool."
		}
		return CatalogEntry{ToolInfo: info, DescriptionDegraded: true}
	}

	c.cache.Put(ctx, c.modelID, info.Name, description, string(info.InputSchema), elapsed.Milliseconds())
	info.Description = description
	return CatalogEntry{ToolInfo: info, DescriptionDegraded: false}
}

// List returns the full catalog in the order resolved by Initialize.
func (c *Catalog) List() []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup resolves a tool's implementation and catalog entry by name, or
// fails with apperr.UnknownTool.
func (c *Catalog) Lookup(name string) (tool.Tool, CatalogEntry, error) {
	t, ok := c.registry.Get(name)
	if !ok {
		return nil, CatalogEntry{}, apperr.Newf(apperr.UnknownTool, "no tool registered with name %q", name)
	}
	c.mu.RLock()
	entry, ok := c.byName[name]
	c.mu.RUnlock()
	if !ok {
		entry = CatalogEntry{ToolInfo: tool.Info(t)}
	}
	return t, entry, nil
}

// CurrentModelID returns the cache partition key for this run. It is fixed
// for the lifetime of the process.
func (c *Catalog) CurrentModelID() string {
	return c.modelID
}
