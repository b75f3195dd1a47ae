package world

import (
	"github.com/l1jgo/cellapp/internal/net/packet"
)

// CallClients sends a remote method call for this entity to its own client
// (unless otherClientsOnly) and to every client that currently has it in
// view. Observers holding an alias get the short form. Returns the number
// of clients written to.
func (e *Entity) CallClients(method string, args []byte, otherClientsOnly bool) int {
	if e.IsDestroyed() {
		return 0
	}
	sent := 0
	if !otherClientsOnly && e.witness != nil && e.witness.client != nil {
		out := packet.NewWriter()
		out.BeginMessage(packet.S_OPCODE_REMOTE_CALL)
		out.WriteD(int32(e.id))
		out.WriteS(method)
		out.WriteBlob(args)
		out.EndMessage()
		e.witness.send(out.Bytes())
		sent++
	}
	e.eachViewer(func(w *Witness) {
		out := packet.NewWriter()
		if alias, ok := w.EntityIDToAliasID(e.id); ok {
			out.BeginMessage(packet.S_OPCODE_REMOTE_CALL_OPT)
			out.WriteC(alias)
		} else {
			out.BeginMessage(packet.S_OPCODE_REMOTE_CALL)
			out.WriteD(int32(e.id))
		}
		out.WriteS(method)
		out.WriteBlob(args)
		out.EndMessage()
		w.send(out.Bytes())
		sent++
	})
	return sent
}

// eachViewer visits the witnesses whose client knows this entity.
func (e *Entity) eachViewer(fn func(w *Witness)) {
	for _, oid := range e.WitnessedBy() {
		o := e.cell.EntityByID(oid)
		if o == nil || o.witness == nil || o.witness.client == nil {
			continue
		}
		if !o.witness.EntityInView(e.id) {
			continue
		}
		fn(o.witness)
	}
}

func (e *Entity) broadcastProperty(name, value string) {
	out := packet.NewWriter()
	out.BeginMessage(packet.S_OPCODE_UPDATE_PROPERTY)
	out.WriteD(int32(e.id))
	writePosDir(out, e)
	out.WriteH(1)
	out.WriteS(name)
	out.WriteS(value)
	out.EndMessage()
	msg := out.Bytes()

	if e.witness != nil {
		e.witness.send(msg)
	}
	e.eachViewer(func(w *Witness) { w.send(msg) })
}
