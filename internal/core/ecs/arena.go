package ecs

// Arena owns objects of type T addressed by generational handles. Freed slots
// keep their allocation and are zeroed on reuse, so hot objects are recycled
// without going back to the garbage collector.
type Arena[T any] struct {
	pool  *HandlePool
	items []*T
	used  []bool
}

func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{
		pool:  NewHandlePool(capacity),
		items: make([]*T, 0, capacity),
	}
}

// Alloc returns a zeroed object and the handle that addresses it.
func (a *Arena[T]) Alloc() (Handle, *T) {
	h := a.pool.Create()
	idx := int(h.Index())
	if idx >= len(a.items) {
		a.items = append(a.items, new(T))
		a.used = append(a.used, false)
	}
	a.used[idx] = true
	item := a.items[idx]
	if item == nil {
		item = new(T)
		a.items[idx] = item
	}
	var zero T
	*item = zero
	return h, item
}

// Get resolves h. Stale or zero handles resolve to nil.
func (a *Arena[T]) Get(h Handle) *T {
	if !a.pool.Alive(h) {
		return nil
	}
	return a.items[h.Index()]
}

// Free releases the slot behind h. Callers must drop every pointer they
// obtained through Get first.
func (a *Arena[T]) Free(h Handle) bool {
	if !a.pool.Destroy(h) {
		return false
	}
	a.used[h.Index()] = false
	return true
}

func (a *Arena[T]) Len() int { return a.pool.Len() }

// Each visits every live object in slot order.
func (a *Arena[T]) Each(fn func(Handle, *T)) {
	for i, used := range a.used {
		if used {
			fn(NewHandle(uint32(i), a.pool.generations[i]), a.items[i])
		}
	}
}
