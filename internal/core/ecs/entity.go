package ecs

// EntityID is the cluster-wide identity of an entity. It stays the same when
// the entity migrates between cells.
type EntityID int32

// ComponentID identifies a server process (a cell) in the cluster.
type ComponentID uint64

// Handle encodes a 32-bit slot index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on free to invalidate stale handles.
type Handle uint64

func NewHandle(index uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32      { return uint32(h) }
func (h Handle) Generation() uint32 { return uint32(h >> 32) }
func (h Handle) IsZero() bool       { return h == 0 }

// HandlePool manages slot allocation with generational indices and a free list.
// Generations start at 1 so the zero Handle is never valid.
type HandlePool struct {
	generations []uint32
	freeList    []uint32
	nextIndex   uint32
	live        int
}

func NewHandlePool(capacity int) *HandlePool {
	return &HandlePool{
		generations: make([]uint32, 0, capacity),
		freeList:    make([]uint32, 0, capacity/4),
	}
}

func (p *HandlePool) Create() Handle {
	p.live++
	if len(p.freeList) > 0 {
		idx := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return NewHandle(idx, p.generations[idx])
	}
	idx := p.nextIndex
	p.nextIndex++
	if int(idx) >= len(p.generations) {
		p.generations = append(p.generations, 1)
	}
	return NewHandle(idx, p.generations[idx])
}

func (p *HandlePool) Alive(h Handle) bool {
	idx := h.Index()
	if idx >= p.nextIndex {
		return false
	}
	return p.generations[idx] == h.Generation()
}

// Destroy invalidates h. Returns false when h was already stale.
func (p *HandlePool) Destroy(h Handle) bool {
	if !p.Alive(h) {
		return false
	}
	idx := h.Index()
	p.generations[idx]++
	p.freeList = append(p.freeList, idx)
	p.live--
	return true
}

// Len is the number of live handles.
func (p *HandlePool) Len() int { return p.live }
