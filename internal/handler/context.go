package handler

import (
	"github.com/l1jgo/cellapp/internal/config"
	"github.com/l1jgo/cellapp/internal/net"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"github.com/l1jgo/cellapp/internal/world"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Config   *config.Config
	Log      *zap.Logger
	Cell     *world.Cell
	Sessions *net.SessionStore
	Scripts  RemoteCallee // nil: client method calls are dropped
}

// RemoteCallee receives cell method calls made by an entity's own client.
type RemoteCallee interface {
	OnRemoteCall(e *world.Entity, method string, args []byte)
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.C_OPCODE_BIND,
		[]packet.SessionState{packet.StateConnected, packet.StateBound},
		func(sess any, r *packet.Reader) {
			HandleBind(sess.(*net.Session), r, deps)
		},
	)

	reg.Register(packet.C_OPCODE_UPDATE_DATA,
		[]packet.SessionState{packet.StateBound},
		func(sess any, r *packet.Reader) {
			HandleUpdateData(sess.(*net.Session), r, deps)
		},
	)

	reg.Register(packet.C_OPCODE_REMOTE_CALL,
		[]packet.SessionState{packet.StateBound},
		func(sess any, r *packet.Reader) {
			HandleRemoteCall(sess.(*net.Session), r, deps)
		},
	)

	reg.Register(packet.C_OPCODE_HEARTBEAT,
		[]packet.SessionState{packet.StateConnected, packet.StateBound},
		func(sess any, r *packet.Reader) {
			HandleHeartbeat(sess.(*net.Session), r, deps)
		},
	)
}
