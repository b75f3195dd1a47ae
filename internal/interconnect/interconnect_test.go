package interconnect

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/l1jgo/cellapp/internal/ghost"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ ghost.Transport = (*Transport)(nil)
var _ ghost.Transport = Disabled{}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{ID: uuid.New(), From: 3, To: 9, Batch: []byte{1, 0, 5, 6}}
	got, err := DecodeEnvelope(env.Encode())
	require.NoError(t, err)
	assert.Equal(t, env, got)

	empty := Envelope{ID: uuid.New(), From: 1, To: 2}
	got, err = DecodeEnvelope(empty.Encode())
	require.NoError(t, err)
	assert.Empty(t, got.Batch)
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	_, err := DecodeEnvelope(nil)
	assert.ErrorIs(t, err, ErrBadEnvelope)

	data := Envelope{ID: uuid.New(), From: 1, To: 2}.Encode()
	_, err = DecodeEnvelope(data[:20])
	assert.ErrorIs(t, err, ErrBadEnvelope)

	data[0] = 7
	_, err = DecodeEnvelope(data)
	assert.ErrorIs(t, err, ErrBadEnvelope)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "cellapp.cell.12", Topic("cellapp", 12))
}

func TestSeenSetEvicts(t *testing.T) {
	s := newSeenSet(2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	assert.True(t, s.add(a))
	assert.False(t, s.add(a))
	assert.True(t, s.add(b))
	assert.True(t, s.add(c)) // evicts a
	assert.True(t, s.add(a))
	assert.False(t, s.add(c))
}

func TestAcceptFilters(t *testing.T) {
	tr := NewTransport(5, Config{Brokers: []string{"localhost:9092"}, TopicPrefix: "t"}, zap.NewNop())
	env := Envelope{ID: uuid.New(), From: 2, To: 5, Batch: []byte{9}}

	in, ok := tr.accept(env.Encode())
	require.True(t, ok)
	assert.Equal(t, Inbound{From: 2, Batch: []byte{9}}, in)

	_, ok = tr.accept(env.Encode())
	assert.False(t, ok, "duplicate")

	other := Envelope{ID: uuid.New(), From: 2, To: 6}
	_, ok = tr.accept(other.Encode())
	assert.False(t, ok, "misrouted")

	_, ok = tr.accept([]byte{1, 2})
	assert.False(t, ok)
}

func TestSendBackpressure(t *testing.T) {
	tr := NewTransport(1, Config{Brokers: []string{"localhost:9092"}, TopicPrefix: "t", QueueSize: 2}, zap.NewNop())
	require.NoError(t, tr.Send(2, []byte{1}))
	require.NoError(t, tr.Send(3, []byte{2}))
	err := tr.Send(2, []byte{3})
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.Equal(t, uint64(1), tr.Dropped())

	msg := <-tr.out
	assert.Equal(t, "t.cell.2", msg.Topic)
	env, err := DecodeEnvelope(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, Envelope{ID: env.ID, From: 1, To: 2, Batch: []byte{1}}, env)

	require.NoError(t, tr.Close())
	assert.True(t, errors.Is(tr.Send(2, nil), ErrClosed))
}

func TestSendKeysBySender(t *testing.T) {
	tr := NewTransport(7, Config{Brokers: []string{"localhost:9092"}, TopicPrefix: "t"}, zap.NewNop())
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Send(2, []byte{byte(i)}))
	}
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		msg := <-tr.out
		assert.Equal(t, partitionKey(7), msg.Key)
		env, err := DecodeEnvelope(msg.Value)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, env.Batch)
		ids = append(ids, env.ID)
	}
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEqual(t, partitionKey(7), partitionKey(8))
}

type recordWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *recordWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return ctx.Err()
}

func (w *recordWriter) Close() error { return nil }

func TestCloseDrainsQueue(t *testing.T) {
	tr := NewTransport(1, Config{Brokers: []string{"localhost:9092"}, TopicPrefix: "t"}, zap.NewNop())
	rw := &recordWriter{}
	tr.writer = rw
	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Send(2, []byte{byte(i)}))
	}

	// writer goroutine only; no broker to read from
	ctx, cancel := context.WithCancel(context.Background())
	tr.cancel = cancel
	tr.wg.Add(1)
	go tr.writeLoop(ctx)

	require.NoError(t, tr.Close())
	rw.mu.Lock()
	defer rw.mu.Unlock()
	require.Len(t, rw.msgs, 5)
	for i, m := range rw.msgs {
		env, err := DecodeEnvelope(m.Value)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, env.Batch, "send order kept")
	}
	assert.Equal(t, uint64(5), tr.Sent())
	assert.Zero(t, tr.Dropped())
}

func TestDisabled(t *testing.T) {
	assert.ErrorIs(t, Disabled{}.Send(4, nil), ErrDisabled)
}
