package handler

import (
	"time"

	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/core/event"
	"github.com/l1jgo/cellapp/internal/net"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"go.uber.org/zap"
)

// HandleBind processes C_BIND: [entityID D].
// The session becomes the client channel of the entity's witness. An entity
// that already has a client loses the old session.
func HandleBind(sess *net.Session, r *packet.Reader, deps *Deps) {
	id := ecs.EntityID(r.ReadD())
	if r.Err() != nil {
		return
	}
	if sess.Entity == id {
		return
	}

	e := deps.Cell.EntityByID(id)
	if e == nil || !e.IsReal() || e.IsDestroyed() {
		deps.Log.Warn("綁定失敗：實體不在本 cell",
			zap.Uint64("session", sess.ID),
			zap.Int32("entity", int32(id)),
		)
		return
	}

	if sess.Entity != 0 {
		releaseBinding(sess, deps)
	}
	if old := deps.Sessions.ByEntity(id); old != nil && old != sess {
		deps.Log.Info("實體已有客戶端，踢除舊連線",
			zap.Uint64("old", old.ID),
			zap.Int32("entity", int32(id)),
		)
		deps.Sessions.Unbind(old)
		old.Close()
	}

	e.AttachWitness(sess)
	deps.Sessions.Bind(sess, id)
	sess.SetState(packet.StateBound)
	event.Emit(deps.Cell.Bus(), event.ClientBound{EntityID: id, SessionID: sess.ID})

	deps.Log.Info("客戶端綁定實體",
		zap.Uint64("session", sess.ID),
		zap.Int32("entity", int32(id)),
		zap.Uint32("space", e.SpaceID()),
	)
}

// releaseBinding detaches the witness of the session's current entity.
func releaseBinding(sess *net.Session, deps *Deps) {
	if e := deps.Cell.EntityByID(sess.Entity); e != nil && e.IsReal() {
		if w := e.Witness(); w != nil && w.Client() == sess {
			e.DetachWitness()
		}
	}
	deps.Sessions.Unbind(sess)
}

// Disconnect drops the session's entity binding. The entity stays in the
// world without a client. Called by the input system for closed sessions.
func Disconnect(sess *net.Session, deps *Deps) {
	id := sess.Entity
	if id == 0 {
		return
	}
	releaseBinding(sess, deps)
	event.Emit(deps.Cell.Bus(), event.ClientDisconnected{EntityID: id, SessionID: sess.ID})
}

// HandleHeartbeat processes C_HEARTBEAT (no body).
func HandleHeartbeat(sess *net.Session, _ *packet.Reader, _ *Deps) {
	sess.LastHeartbeat = time.Now()
}
