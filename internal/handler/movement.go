package handler

import (
	"math"

	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/net"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"github.com/l1jgo/cellapp/internal/world"
	"go.uber.org/zap"
)

// HandleUpdateData processes C_UPDATE_DATA:
// [x F][y F][z F][yaw F][pitch F][roll F][onGround C][spaceID DU].
// The client moves its own entity. Updates are dropped while the server
// controls the entity or when the client still reports an old space (it has
// not seen the teleport yet).
func HandleUpdateData(sess *net.Session, r *packet.Reader, deps *Deps) {
	pos := coord.Vector3{X: r.ReadF(), Y: r.ReadF(), Z: r.ReadF()}
	dir := world.Direction{Yaw: r.ReadF(), Pitch: r.ReadF(), Roll: r.ReadF()}
	onGround := r.ReadBool()
	spaceID := r.ReadDU()
	if r.Err() != nil {
		return
	}

	e := deps.Cell.EntityByID(sess.Entity)
	if e == nil || !e.IsReal() || e.IsDestroyed() {
		return
	}
	if e.ControlledBy() != e.ID() {
		return
	}
	if spaceID != e.SpaceID() {
		deps.Log.Debug("移動封包空間不符",
			zap.Int32("entity", int32(e.ID())),
			zap.Uint32("client", spaceID),
			zap.Uint32("server", e.SpaceID()),
		)
		return
	}
	if !finite(pos.X, pos.Y, pos.Z, dir.Yaw, dir.Pitch, dir.Roll) {
		deps.Log.Warn("移動封包數值非法", zap.Uint64("session", sess.ID))
		return
	}

	e.SetOnGround(onGround)
	e.SetPositionAndDirection(pos, dir)
}

func finite(vs ...float32) bool {
	for _, v := range vs {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
