package system

import (
	"time"

	"github.com/l1jgo/cellapp/internal/core/event"
	"github.com/l1jgo/cellapp/internal/ghost"
	"github.com/l1jgo/cellapp/internal/persist"
	"github.com/l1jgo/cellapp/internal/world"
	"go.uber.org/zap"
)

// SubscribeCellEvents connects the cell's lifecycle events to the ghost
// manager and the journal. Handlers run in EventSystem, one tick after the
// event was emitted.
func SubscribeCellEvents(c *world.Cell, ghosts *ghost.Manager, journal Journal, log *zap.Logger) {
	if journal == nil {
		journal = NopJournal{}
	}
	bus := c.Bus()

	event.Subscribe(bus, func(ev event.EntityDestroyed) {
		if ev.Real && ghosts != nil {
			ghosts.OnRealDestroyed(ev.EntityID)
		}
	})

	event.Subscribe(bus, func(ev event.MessageUndeliverable) {
		journal.RecordUndeliverable(persist.UndeliverableRecord{
			EntityID: int32(ev.EntityID),
			Kind:     ev.Kind,
			From:     uint64(ev.From),
			Cell:     uint64(c.ID()),
			At:       time.Now(),
		})
	})

	// Outgoing handoffs are journaled by MigrationSystem with their size.
	event.Subscribe(bus, func(ev event.EntityMigrated) {
		if ev.From == c.ID() {
			return
		}
		journal.RecordHandoff(persist.HandoffRecord{
			EntityID: int32(ev.EntityID),
			From:     uint64(ev.From),
			To:       uint64(ev.To),
			Tick:     c.Tick(),
			At:       time.Now(),
		})
	})

	event.Subscribe(bus, func(ev event.ClientBound) {
		log.Debug("客戶端已綁定", zap.Int32("entity", int32(ev.EntityID)), zap.Uint64("session", ev.SessionID))
	})
	event.Subscribe(bus, func(ev event.ClientDisconnected) {
		log.Debug("客戶端已離線", zap.Int32("entity", int32(ev.EntityID)), zap.Uint64("session", ev.SessionID))
	})
}
