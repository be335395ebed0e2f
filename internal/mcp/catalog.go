package mcp

import (
	"context"
	"log"
	"sync"
)

// Lister is the part of Client the catalog needs.
type Lister interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
}

// Catalog caches the tool list for the life of the process. A failed or empty
// fetch is not cached, so the next request tries again.
type Catalog struct {
	lister Lister

	mu     sync.Mutex
	tools  []ToolDescriptor
	cached bool

	Logger *log.Logger
}

func NewCatalog(lister Lister) *Catalog {
	return &Catalog{lister: lister}
}

// Tools returns the cached catalog, fetching it when nothing is cached yet.
// Failures degrade to an empty catalog and are logged.
func (c *Catalog) Tools(ctx context.Context) []ToolDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached {
		return c.tools
	}
	tools, err := c.fetchLocked(ctx)
	if err != nil {
		c.logf("[mcp] could not fetch tool catalog: %v", err)
		return nil
	}
	return tools
}

// Refresh drops the cache and fetches again. Unlike Tools it reports errors.
func (c *Catalog) Refresh(ctx context.Context) ([]ToolDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = nil
	c.cached = false
	return c.fetchLocked(ctx)
}

// Cached reports the current cache without fetching.
func (c *Catalog) Cached() ([]ToolDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools, c.cached
}

func (c *Catalog) fetchLocked(ctx context.Context) ([]ToolDescriptor, error) {
	if c.lister == nil {
		return nil, nil
	}
	tools, err := c.lister.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		c.tools = tools
		c.cached = true
	}
	return tools, nil
}

func (c *Catalog) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
