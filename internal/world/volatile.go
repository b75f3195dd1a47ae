package world

import "github.com/l1jgo/cellapp/internal/net/packet"

// volatileKinds picks the position and direction layout of the update for
// other. An entity driven by the observer's own client is skipped: that
// client already predicts it.
func (w *Witness) volatileKinds(other *Entity) (pos, dir int) {
	if other.controlledBy != 0 && other.controlledBy == w.owner.id {
		return packet.PosNone, packet.DirNone
	}
	vi := other.VolatileInfo()
	n := w.cell.opts.PosDirAdditionalUpdates
	tick := w.cell.tick

	if vi.Position > 0 && (n == 0 || tick-other.posChanged < n) {
		if !other.onGround || !vi.Optimized {
			pos = packet.PosXYZ
		} else {
			pos = packet.PosXZ
		}
	}
	if n == 0 || tick-other.dirChanged < n {
		dir = dirKind(vi.Yaw > 0, vi.Pitch > 0, vi.Roll > 0)
	}
	return pos, dir
}

func dirKind(yaw, pitch, roll bool) int {
	switch {
	case yaw && pitch && roll:
		return packet.DirYPR
	case yaw && pitch:
		return packet.DirYP
	case yaw && roll:
		return packet.DirYR
	case pitch && roll:
		return packet.DirPR
	case yaw:
		return packet.DirY
	case pitch:
		return packet.DirP
	case roll:
		return packet.DirR
	}
	return packet.DirNone
}

// writeVolatile emits one of the 23 update layouts, or nothing when neither
// position nor direction is due. Positions are relative to the observer.
func (w *Witness) writeVolatile(out *packet.Writer, r *EntityRef, other *Entity) {
	pos, dir := w.volatileKinds(other)
	if pos == packet.PosNone && dir == packet.DirNone {
		return
	}
	out.BeginMessage(packet.UpdateDataOpcode(pos, dir))
	w.writeRefID(out, r)
	if pos != packet.PosNone {
		rel := other.pos.Sub(w.owner.pos)
		out.WritePackXZ(rel.X, rel.Z)
		if pos == packet.PosXYZ {
			out.WritePackY(rel.Y)
		}
	}
	yaw, pitch, roll := packet.DirHas(dir)
	if yaw {
		out.WriteAngle(other.dir.Yaw)
	}
	if pitch {
		out.WriteAngle(other.dir.Pitch)
	}
	if roll {
		out.WriteAngle(other.dir.Roll)
	}
	out.EndMessage()
}
