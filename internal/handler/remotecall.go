package handler

import (
	"github.com/l1jgo/cellapp/internal/net"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"go.uber.org/zap"
)

// HandleRemoteCall processes C_REMOTE_CALL: [method S][args blob].
// Only the bound entity's own methods are callable.
func HandleRemoteCall(sess *net.Session, r *packet.Reader, deps *Deps) {
	method := r.ReadS()
	args := r.ReadBlob()
	if r.Err() != nil || method == "" {
		return
	}
	e := deps.Cell.EntityByID(sess.Entity)
	if e == nil || !e.IsReal() || e.IsDestroyed() {
		return
	}
	if deps.Scripts == nil {
		deps.Log.Debug("無腳本引擎，忽略遠端呼叫", zap.String("method", method))
		return
	}
	deps.Scripts.OnRemoteCall(e, method, args)
}
