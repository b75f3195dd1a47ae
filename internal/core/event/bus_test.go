package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversNextTick(t *testing.T) {
	b := NewBus()
	var got []EntityCreated
	Subscribe(b, func(ev EntityCreated) { got = append(got, ev) })

	Emit(b, EntityCreated{EntityID: 1, SpaceID: 7, Real: true})
	Emit(b, EntityCreated{EntityID: 2, SpaceID: 7})
	assert.Equal(t, 2, Pending[EntityCreated](b))

	// nothing swapped in yet
	assert.Equal(t, 0, b.DispatchAll())
	assert.Empty(t, got)

	b.SwapBuffers()
	assert.Equal(t, 0, Pending[EntityCreated](b))
	assert.Equal(t, 2, b.DispatchAll())
	require.Len(t, got, 2)
	assert.Equal(t, int32(1), int32(got[0].EntityID))
	assert.True(t, got[0].Real)
	assert.Equal(t, int32(2), int32(got[1].EntityID))
}

func TestBusTypesAreSeparate(t *testing.T) {
	b := NewBus()
	created, destroyed := 0, 0
	Subscribe(b, func(EntityCreated) { created++ })
	Subscribe(b, func(EntityDestroyed) { destroyed++ })

	Emit(b, EntityDestroyed{EntityID: 3})
	b.SwapBuffers()
	b.DispatchAll()
	assert.Equal(t, 0, created)
	assert.Equal(t, 1, destroyed)

	// a second swap drops what was already dispatched
	b.SwapBuffers()
	assert.Equal(t, 0, b.DispatchAll())
	assert.Equal(t, 1, destroyed)
}

func TestBusKeepsEmitOrderAcrossTypes(t *testing.T) {
	b := NewBus()
	var order []string
	Subscribe(b, func(ev EntityDestroyed) { order = append(order, "destroyed") })
	Subscribe(b, func(ev EntityMigrated) { order = append(order, "migrated") })
	Subscribe(b, func(ev EntityCreated) {
		order = append(order, "created")
		Emit(b, EntityDestroyed{EntityID: ev.EntityID})
	})

	Emit(b, EntityMigrated{EntityID: 1})
	Emit(b, EntityCreated{EntityID: 2})
	Emit(b, EntityDestroyed{EntityID: 1})
	b.SwapBuffers()
	assert.Equal(t, 3, b.DispatchAll())
	assert.Equal(t, []string{"migrated", "created", "destroyed"}, order)

	// the destroy emitted while dispatching waits a tick
	assert.Equal(t, 1, Pending[EntityDestroyed](b))
	b.SwapBuffers()
	assert.Equal(t, 1, b.DispatchAll())
	assert.Equal(t, "destroyed", order[3])
}
