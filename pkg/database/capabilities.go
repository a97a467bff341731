package database

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ProbeColumns runs a zero-row select naming cols and reports whether they all exist.
// Any error other than undefined-column is returned as is.
func ProbeColumns(ctx context.Context, q Querier, table string, cols ...string) (bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", strings.Join(cols, ", "), table)
	rows, err := q.QueryxContext(ctx, query)
	if err != nil {
		if IsUndefinedColumn(err) {
			return false, nil
		}
		return false, err
	}
	defer rows.Close()
	return true, rows.Err()
}

// CapabilityCache memoizes probe results per session key.
type CapabilityCache struct {
	mu      sync.Mutex
	results map[string]bool
}

func NewCapabilityCache() *CapabilityCache {
	return &CapabilityCache{results: make(map[string]bool)}
}

// Get returns the cached result for key, calling probe on a miss. Failed probes are not cached.
func (c *CapabilityCache) Get(ctx context.Context, key string, probe func(ctx context.Context) (bool, error)) (bool, error) {
	c.mu.Lock()
	if v, ok := c.results[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := probe(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.results[key] = v
	c.mu.Unlock()
	return v, nil
}

// Forget drops the cached result for key.
func (c *CapabilityCache) Forget(key string) {
	c.mu.Lock()
	delete(c.results, key)
	c.mu.Unlock()
}
