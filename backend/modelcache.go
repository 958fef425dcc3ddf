package backend

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// ModelCache is the keyed store backend_id -> model_instance (§4.3).
// get_or_init is the only way to obtain a usable model; init calls for the
// same key are coalesced via singleflight so concurrent callers share one
// initialization. Eviction is never automatic; only Drop removes an entry.
type ModelCache struct {
	runtime Runtime

	mu        sync.RWMutex
	instances map[ID]ModelInstance

	group singleflight.Group
}

// NewModelCache creates a ModelCache backed by runtime.
func NewModelCache(runtime Runtime) *ModelCache {
	return &ModelCache{
		runtime:   runtime,
		instances: make(map[ID]ModelInstance),
	}
}

// GetOrInit returns the cached instance for id, initializing it from
// modelPath if absent. Concurrent GetOrInit calls for the same id share a
// single Load call; only one goroutine actually initializes.
func (c *ModelCache) GetOrInit(id ID, modelPath string) (ModelInstance, error) {
	c.mu.RLock()
	if inst, ok := c.instances[id]; ok {
		c.mu.RUnlock()
		return inst, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(string(id), func() (any, error) {
		c.mu.RLock()
		if inst, ok := c.instances[id]; ok {
			c.mu.RUnlock()
			return inst, nil
		}
		c.mu.RUnlock()

		inst, err := c.runtime.Load(id, modelPath)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.instances[id] = inst
		c.mu.Unlock()
		return inst, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ModelInstance), nil
}

// Get returns the cached instance for id without initializing it.
func (c *ModelCache) Get(id ID) (ModelInstance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instances[id]
	return inst, ok
}

// Drop closes and evicts the instance for id, if present. This is the only
// way an entry leaves the cache; there is no automatic eviction (§4.3), so
// re-initialization cost is never paid inside a request unless an
// operator explicitly drops a backend.
func (c *ModelCache) Drop(id ID) error {
	c.mu.Lock()
	inst, ok := c.instances[id]
	if ok {
		delete(c.instances, id)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return inst.Close()
}
