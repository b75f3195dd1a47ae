package net

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"go.uber.org/zap"
)

// Session is one client connection. Network I/O runs in dedicated
// goroutines; everything else is touched only from the tick goroutine.
// A bound session is the client channel of its entity's witness.
type Session struct {
	ID   uint64
	conn net.Conn

	state atomic.Int32 // packet.SessionState

	InQueue  chan []byte // tick goroutine reads frames from here
	OutQueue chan []byte // writer goroutine reads from here

	IP     string
	Entity ecs.EntityID // bound entity, tick goroutine only

	LastHeartbeat time.Time // tick goroutine only

	outBuf [][]byte // frames buffered this tick, flushed by the output phase

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// Per-second frame rate limiter (readLoop goroutine only)
	pktPerSec  int
	pktCount   int
	pktResetAt int64

	log *zap.Logger
}

func NewSession(conn net.Conn, id uint64, inSize, outSize, pktPerSec int, log *zap.Logger) *Session {
	s := &Session{
		ID:            id,
		conn:          conn,
		InQueue:       make(chan []byte, inSize),
		OutQueue:      make(chan []byte, outSize),
		IP:            conn.RemoteAddr().String(),
		LastHeartbeat: time.Now(),
		closeCh:       make(chan struct{}),
		pktPerSec:     pktPerSec,
		log:           log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateConnected))
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a frame. Nothing reaches TCP until FlushOutput runs in the
// output phase. Tick goroutine only.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, data)
}

// Buffered returns the number of frames waiting for FlushOutput.
func (s *Session) Buffered() int { return len(s.outBuf) }

// FlushOutput hands this tick's frames to the writer goroutine. A full
// OutQueue means the client cannot keep up and the session is closed.
func (s *Session) FlushOutput() {
	for _, data := range s.outBuf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("輸出佇列已滿，斷開慢速連線")
			s.Close()
			clear(s.outBuf)
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	clear(s.outBuf)
	s.outBuf = s.outBuf[:0]
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop reads frames and pushes them onto InQueue for the tick goroutine.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("讀取錯誤", zap.Error(err))
			}
			return
		}

		if s.pktPerSec > 0 {
			now := time.Now().Unix()
			if now != s.pktResetAt {
				s.pktCount = 0
				s.pktResetAt = now
			}
			s.pktCount++
			if s.pktCount > s.pktPerSec {
				s.log.Warn("封包速率超限，斷開連線", zap.Int("pps", s.pktCount))
				return
			}
		}

		// Movement frames must not be dropped, so block until there is room.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop writes queued frames to the connection.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOne(data) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeOne(data []byte) bool {
	if ce := s.log.Check(zap.DebugLevel, "TX"); ce != nil {
		ce.Write(
			zap.String("op", fmt.Sprintf("0x%02X", data[0])),
			zap.Int("len", len(data)),
		)
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("寫入錯誤", zap.Error(err))
		}
		return false
	}
	return true
}
