package bus

import (
	"reflect"
	"sync"
)

// typeRegistry caches reflection lookups so that per-message dispatch never
// repeats an AssignableTo call for the same (resolved, declared) pair (§9
// "Deep type polymorphism").
type typeRegistry struct {
	mu    sync.RWMutex
	cache map[typePairKey]bool
}

type typePairKey struct {
	resolved reflect.Type
	declared reflect.Type
}

func newTypeRegistry() *typeRegistry {
	return &typeRegistry{cache: make(map[typePairKey]bool)}
}

// matches reports whether resolved is assignable to declared — i.e.
// declared is a supertype of resolved, counting interface implementation.
// Read-dominant: a cache hit never takes the write lock.
func (r *typeRegistry) matches(resolved, declared reflect.Type) bool {
	key := typePairKey{resolved: resolved, declared: declared}

	r.mu.RLock()
	v, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return v
	}

	v = resolved != nil && declared != nil && resolved.AssignableTo(declared)

	r.mu.Lock()
	r.cache[key] = v
	r.mu.Unlock()

	return v
}
