package event

import "github.com/l1jgo/cellapp/internal/core/ecs"

// Cell lifecycle events. Emitted on the tick thread, readable next tick.

type EntityCreated struct {
	EntityID ecs.EntityID
	SpaceID  uint32
	Real     bool
}

type EntityDestroyed struct {
	EntityID ecs.EntityID
	Real     bool
}

// EntityMigrated is emitted once the real entity has been handed to To.
type EntityMigrated struct {
	EntityID ecs.EntityID
	From     ecs.ComponentID
	To       ecs.ComponentID
}

// MessageUndeliverable reports a cell message for an entity that is neither
// here nor routed anywhere.
type MessageUndeliverable struct {
	EntityID ecs.EntityID
	Kind     uint8
	From     ecs.ComponentID
}

type ClientBound struct {
	EntityID  ecs.EntityID
	SessionID uint64
}

type ClientDisconnected struct {
	EntityID  ecs.EntityID
	SessionID uint64
}
