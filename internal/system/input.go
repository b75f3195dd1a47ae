package system

import (
	"time"

	coresys "github.com/l1jgo/cellapp/internal/core/system"
	"github.com/l1jgo/cellapp/internal/ghost"
	"github.com/l1jgo/cellapp/internal/handler"
	"github.com/l1jgo/cellapp/internal/interconnect"
	"github.com/l1jgo/cellapp/internal/net"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"go.uber.org/zap"
)

// SessionSource hands new and dead sessions to the tick goroutine.
// *net.Server implements it.
type SessionSource interface {
	NewSessions() <-chan *net.Session
	DeadSessions() <-chan uint64
	NotifyDead(sessionID uint64)
}

// InputConfig holds the per-tick input limits.
type InputConfig struct {
	MaxPacketsPerTick int           // per session
	MaxBatchesPerTick int           // inbound cell batches
	HeartbeatTimeout  time.Duration // 0 disables the check
}

// InputSystem drains client packet queues through the packet registry and
// feeds batches from other cells into the ghost manager. Phase 0 (Input).
type InputSystem struct {
	src      SessionSource
	registry *packet.Registry
	deps     *handler.Deps
	ghosts   *ghost.Manager
	inbox    <-chan interconnect.Inbound // nil when running alone
	cfg      InputConfig
	now      func() time.Time
	log      *zap.Logger
}

func NewInputSystem(
	src SessionSource,
	registry *packet.Registry,
	deps *handler.Deps,
	ghosts *ghost.Manager,
	inbox <-chan interconnect.Inbound,
	cfg InputConfig,
	log *zap.Logger,
) *InputSystem {
	if cfg.MaxPacketsPerTick <= 0 {
		cfg.MaxPacketsPerTick = 32
	}
	if cfg.MaxBatchesPerTick <= 0 {
		cfg.MaxBatchesPerTick = 256
	}
	return &InputSystem{
		src:      src,
		registry: registry,
		deps:     deps,
		ghosts:   ghosts,
		inbox:    inbox,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	store := s.deps.Sessions

	// Accept new sessions
	for {
		select {
		case sess := <-s.src.NewSessions():
			store.Add(sess)
		default:
			goto doneNew
		}
	}
doneNew:

	// Process dead sessions
	for {
		select {
		case id := <-s.src.DeadSessions():
			if sess := store.Remove(id); sess != nil {
				handler.Disconnect(sess, s.deps)
			}
		default:
			goto doneDead
		}
	}
doneDead:

	now := s.now()
	store.ForEach(func(sess *net.Session) {
		if sess.IsClosed() {
			// Packets sent just before the close still count.
			s.drain(sess)
			sess.FlushOutput()
			handler.Disconnect(sess, s.deps)
			s.src.NotifyDead(sess.ID)
			store.Remove(sess.ID)
			return
		}
		s.drain(sess)
		if s.cfg.HeartbeatTimeout > 0 && now.Sub(sess.LastHeartbeat) > s.cfg.HeartbeatTimeout {
			s.log.Info("心跳逾時，斷開連線",
				zap.Uint64("session", sess.ID),
				zap.Int32("entity", int32(sess.Entity)),
			)
			sess.Close()
		}
	})

	s.receiveBatches()
}

func (s *InputSystem) drain(sess *net.Session) {
	for i := 0; i < s.cfg.MaxPacketsPerTick; i++ {
		select {
		case data := <-sess.InQueue:
			if err := s.registry.Dispatch(sess, sess.State(), data); err != nil {
				s.log.Debug("封包分派錯誤",
					zap.Uint64("session", sess.ID),
					zap.Error(err),
				)
			}
		default:
			return
		}
	}
}

// receiveBatches applies batches other cells sent since the last tick.
func (s *InputSystem) receiveBatches() {
	if s.inbox == nil || s.ghosts == nil {
		return
	}
	for i := 0; i < s.cfg.MaxBatchesPerTick; i++ {
		select {
		case in := <-s.inbox:
			if err := s.ghosts.Receive(in.From, in.Batch); err != nil {
				s.log.Warn("跨 cell 批次解析失敗", zap.Error(err))
			}
		default:
			return
		}
	}
}
