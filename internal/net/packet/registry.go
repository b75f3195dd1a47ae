package packet

import (
	"fmt"

	"go.uber.org/zap"
)

// SessionState is where a client connection stands with its entity.
type SessionState uint8

const (
	StateConnected     SessionState = iota // accepted, no entity yet
	StateBound                             // drives an entity, receives witness output
	StateDisconnecting                     // closed, waiting for the input phase to unbind it
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateBound:
		return "Bound"
	case StateDisconnecting:
		return "Disconnecting"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// HandlerFunc handles one client packet. sess is the *net.Session.
type HandlerFunc func(sess any, r *Reader)

type stateMask uint8

func maskOf(states []SessionState) stateMask {
	var m stateMask
	for _, s := range states {
		m |= 1 << s
	}
	return m
}

func (m stateMask) has(s SessionState) bool { return m&(1<<s) != 0 }

type handlerEntry struct {
	fn     HandlerFunc
	states stateMask
}

// DispatchStats counts client packets by outcome.
type DispatchStats struct {
	Handled  uint64
	Unknown  uint64
	Rejected uint64 // wrong session state or empty
	Panics   uint64
}

// Registry routes client packets to handlers by opcode. Tick goroutine only.
type Registry struct {
	handlers [256]*handlerEntry
	stats    DispatchStats
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{log: log}
}

// Register binds opcode to fn for the listed session states.
func (reg *Registry) Register(opcode byte, states []SessionState, fn HandlerFunc) {
	reg.handlers[opcode] = &handlerEntry{fn: fn, states: maskOf(states)}
}

func (reg *Registry) Stats() DispatchStats { return reg.stats }

// Dispatch runs the handler for data[0]. Unknown opcodes are skipped; a
// packet not allowed in the session's state, or a handler panic, is an
// error and the caller closes the session.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) error {
	if len(data) == 0 {
		reg.stats.Rejected++
		return fmt.Errorf("empty packet")
	}
	opcode := data[0]
	entry := reg.handlers[opcode]
	if entry == nil {
		reg.stats.Unknown++
		reg.log.Debug("未知操作碼", zap.String("opcode", ClientOpcodeName(opcode)), zap.Int("size", len(data)))
		return nil
	}
	if !entry.states.has(state) {
		reg.stats.Rejected++
		reg.log.Warn("操作碼在此狀態下不允許",
			zap.String("opcode", ClientOpcodeName(opcode)),
			zap.Stringer("state", state),
		)
		return fmt.Errorf("%s not allowed in state %s", ClientOpcodeName(opcode), state)
	}
	if err := reg.safeCall(entry.fn, sess, NewReader(data), opcode); err != nil {
		reg.stats.Panics++
		return err
	}
	reg.stats.Handled++
	return nil
}

func (reg *Registry) safeCall(fn HandlerFunc, sess any, r *Reader, opcode byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("處理器 panic 已恢復",
				zap.String("opcode", ClientOpcodeName(opcode)),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic in %s: %v", ClientOpcodeName(opcode), rec)
		}
	}()
	fn(sess, r)
	return nil
}
