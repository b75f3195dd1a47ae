package interconnect

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var (
	ErrBackpressure = errors.New("interconnect outbound queue full")
	ErrDisabled     = errors.New("interconnect disabled")
	ErrClosed       = errors.New("interconnect closed")
)

// Inbound is one batch received from another cell.
type Inbound struct {
	From  ecs.ComponentID
	Batch []byte
}

type Config struct {
	Brokers     []string
	TopicPrefix string
	QueueSize    int           // outbound and inbound channel capacity
	MaxWait      time.Duration // reader poll wait
	DrainTimeout time.Duration // how long Close may spend publishing queued batches
}

// messageWriter is the part of *kafka.Writer the transport uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Transport moves ghost batches between cells over Kafka, one topic per
// cell. Send never blocks: the tick goroutine enqueues and a writer
// goroutine publishes. Inbound batches arrive on Inbox.
//
// Records are keyed by the sending cell, so every batch from one sender to
// one destination lands on the same partition and is consumed in send
// order. The envelope id is only used to drop redeliveries.
type Transport struct {
	self ecs.ComponentID
	cfg  Config
	log  *zap.Logger

	writer  messageWriter
	out     chan kafka.Message
	inbox   chan Inbound
	seen    *seenSet
	quit    chan struct{}
	flushed chan struct{}

	closed  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewTransport(self ecs.ComponentID, cfg Config, log *zap.Logger) *Transport {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 20 * time.Millisecond
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 2 * time.Second
	}
	return &Transport{
		self: self,
		cfg:  cfg,
		log:  log.With(zap.String("component", "interconnect")),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 5 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		out:     make(chan kafka.Message, cfg.QueueSize),
		inbox:   make(chan Inbound, cfg.QueueSize),
		seen:    newSeenSet(4096),
		quit:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
}

// partitionKey keys records by sender, which keeps one sender's batches to
// a destination on a single partition.
func partitionKey(from ecs.ComponentID) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(from))
}

// Send enqueues batch for cell dst. Tick goroutine.
func (t *Transport) Send(dst ecs.ComponentID, batch []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	env := Envelope{ID: uuid.New(), From: t.self, To: dst, Batch: batch}
	msg := kafka.Message{
		Topic: Topic(t.cfg.TopicPrefix, dst),
		Key:   partitionKey(t.self),
		Value: env.Encode(),
	}
	select {
	case t.out <- msg:
		return nil
	default:
		t.dropped.Add(1)
		return fmt.Errorf("send to cell %d: %w", dst, ErrBackpressure)
	}
}

// Inbox delivers batches addressed to this cell.
func (t *Transport) Inbox() <-chan Inbound { return t.inbox }

func (t *Transport) Sent() uint64    { return t.sent.Load() }
func (t *Transport) Dropped() uint64 { return t.dropped.Load() }

// Run starts the writer and reader goroutines.
func (t *Transport) Run(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(2)
	go t.writeLoop(ctx)
	go t.readLoop(ctx)
	t.log.Info(fmt.Sprintf("跨 cell 傳輸啟動  topic=%s", Topic(t.cfg.TopicPrefix, t.self)))
}

func (t *Transport) writeLoop(ctx context.Context) {
	defer t.wg.Done()
	defer close(t.flushed)
	batch := make([]kafka.Message, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.quit:
			t.drain()
			return
		case msg := <-t.out:
			batch = append(batch[:0], msg)
		drain:
			for len(batch) < cap(batch) {
				select {
				case m := <-t.out:
					batch = append(batch, m)
				default:
					break drain
				}
			}
			if err := t.writer.WriteMessages(ctx, batch...); err != nil {
				if ctx.Err() != nil {
					return
				}
				t.dropped.Add(uint64(len(batch)))
				t.log.Error("批次寫入 kafka 失敗", zap.Int("count", len(batch)), zap.Error(err))
				continue
			}
			t.sent.Add(uint64(len(batch)))
		}
	}
}

// drain publishes whatever is still queued, bounded by DrainTimeout.
func (t *Transport) drain() {
	var rest []kafka.Message
collect:
	for {
		select {
		case m := <-t.out:
			rest = append(rest, m)
		default:
			break collect
		}
	}
	if len(rest) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DrainTimeout)
	defer cancel()
	if err := t.writer.WriteMessages(ctx, rest...); err != nil {
		t.dropped.Add(uint64(len(rest)))
		t.log.Error("關閉前寫入 kafka 失敗", zap.Int("count", len(rest)), zap.Error(err))
		return
	}
	t.sent.Add(uint64(len(rest)))
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.wg.Done()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  t.cfg.Brokers,
		Topic:    Topic(t.cfg.TopicPrefix, t.self),
		GroupID:  Topic(t.cfg.TopicPrefix, t.self),
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  t.cfg.MaxWait,
	})
	defer reader.Close()

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Warn("kafka 讀取錯誤", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		in, ok := t.accept(m.Value)
		if !ok {
			continue
		}
		select {
		case t.inbox <- in:
		case <-ctx.Done():
			return
		}
	}
}

// accept decodes one record and filters duplicates and misrouted batches.
func (t *Transport) accept(value []byte) (Inbound, bool) {
	env, err := DecodeEnvelope(value)
	if err != nil {
		t.log.Warn("無法解析跨 cell 封包", zap.Error(err))
		return Inbound{}, false
	}
	if env.To != t.self {
		t.log.Warn("收到非本 cell 的批次", zap.Uint64("to", uint64(env.To)))
		return Inbound{}, false
	}
	if !t.seen.add(env.ID) {
		t.log.Debug("重複批次已忽略", zap.String("id", env.ID.String()))
		return Inbound{}, false
	}
	return Inbound{From: env.From, Batch: env.Batch}, true
}

// Close publishes the batches still queued, waiting at most DrainTimeout,
// then stops the goroutines and closes the writer.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.quit)
	if t.cancel != nil {
		select {
		case <-t.flushed:
		case <-time.After(t.cfg.DrainTimeout + time.Second):
			t.log.Warn("kafka 佇列清空逾時")
		}
		t.cancel()
	}
	t.wg.Wait()
	if err := t.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// Disabled is the transport of a cell running alone. Every send fails, so
// batches for other cells show up in the ghost manager's send errors.
type Disabled struct{}

func (Disabled) Send(dst ecs.ComponentID, _ []byte) error {
	return fmt.Errorf("send to cell %d: %w", dst, ErrDisabled)
}
