package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slot struct {
	name string
	n    int
}

func TestHandlePoolGenerations(t *testing.T) {
	p := NewHandlePool(4)
	a := p.Create()
	b := p.Create()
	assert.False(t, a.IsZero())
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, p.Len())

	require.True(t, p.Destroy(a))
	assert.False(t, p.Alive(a))
	assert.False(t, p.Destroy(a), "double destroy must be rejected")

	c := p.Create()
	assert.Equal(t, a.Index(), c.Index(), "slot is reused")
	assert.NotEqual(t, a.Generation(), c.Generation())
	assert.True(t, p.Alive(c))
	assert.False(t, p.Alive(Handle(0)))
}

func TestArenaReuseZeroesObjects(t *testing.T) {
	a := NewArena[slot](2)
	h1, s1 := a.Alloc()
	s1.name, s1.n = "first", 7
	require.Same(t, s1, a.Get(h1))

	require.True(t, a.Free(h1))
	assert.Nil(t, a.Get(h1))

	h2, s2 := a.Alloc()
	assert.Same(t, s1, s2, "allocation is recycled")
	assert.Equal(t, slot{}, *s2)
	assert.NotEqual(t, h1, h2)
	assert.Nil(t, a.Get(h1), "stale handle never resolves to the new occupant")
}

func TestArenaEach(t *testing.T) {
	a := NewArena[slot](4)
	var hs []Handle
	for i := 0; i < 4; i++ {
		h, s := a.Alloc()
		s.n = i
		hs = append(hs, h)
	}
	a.Free(hs[1])
	a.Free(hs[3])

	var seen []int
	a.Each(func(h Handle, s *slot) {
		assert.Same(t, s, a.Get(h))
		seen = append(seen, s.n)
	})
	assert.Equal(t, []int{0, 2}, seen)
	assert.Equal(t, 2, a.Len())
}
