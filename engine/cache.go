package engine

import (
	"sync"

	"github.com/vectorhq/vector/pipeline"
)

// ContextCache holds detected repo contexts keyed by project ID so that
// planning and execution share one detection pass. Entries are evicted
// when the project's workflow finishes.
type ContextCache struct {
	mu       sync.Mutex
	contexts map[string]*pipeline.RepoContext
}

// NewContextCache creates an empty cache.
func NewContextCache() *ContextCache {
	return &ContextCache{contexts: make(map[string]*pipeline.RepoContext)}
}

// Get returns the cached context for a project, or nil.
func (c *ContextCache) Get(projectID string) *pipeline.RepoContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contexts[projectID]
}

// Put stores the context for a project.
func (c *ContextCache) Put(projectID string, rc *pipeline.RepoContext) {
	c.mu.Lock()
	c.contexts[projectID] = rc
	c.mu.Unlock()
}

// Evict removes the context for a project.
func (c *ContextCache) Evict(projectID string) {
	c.mu.Lock()
	delete(c.contexts, projectID)
	c.mu.Unlock()
}
