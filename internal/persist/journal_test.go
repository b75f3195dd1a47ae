package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu       sync.Mutex
	handoffs []HandoffRecord
	undeliv  []UndeliverableRecord
	fail     bool
}

func (m *memStore) InsertHandoffs(_ context.Context, recs []HandoffRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db down")
	}
	m.handoffs = append(m.handoffs, recs...)
	return nil
}

func (m *memStore) InsertUndeliverable(_ context.Context, recs []UndeliverableRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db down")
	}
	m.undeliv = append(m.undeliv, recs...)
	return nil
}

func (m *memStore) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handoffs), len(m.undeliv)
}

func TestJournalFlush(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, 8, time.Hour, zap.NewNop())

	j.RecordHandoff(HandoffRecord{EntityID: 1, From: 1, To: 2, Bytes: 40})
	j.RecordHandoff(HandoffRecord{EntityID: 2, From: 1, To: 3})
	j.RecordUndeliverable(UndeliverableRecord{EntityID: 9, Kind: 6, From: 4, Cell: 1})
	j.Flush(context.Background())

	h, u := store.counts()
	assert.Equal(t, 2, h)
	assert.Equal(t, 1, u)
	assert.Equal(t, uint64(3), j.Written())
	assert.Equal(t, int32(1), store.handoffs[0].EntityID)
}

func TestJournalDropsWhenFull(t *testing.T) {
	j := NewJournal(&memStore{}, 2, time.Hour, zap.NewNop())
	for i := 0; i < 5; i++ {
		j.RecordHandoff(HandoffRecord{EntityID: int32(i)})
	}
	assert.Equal(t, uint64(3), j.Dropped())
}

func TestJournalStoreFailure(t *testing.T) {
	store := &memStore{fail: true}
	j := NewJournal(store, 4, time.Hour, zap.NewNop())
	j.RecordHandoff(HandoffRecord{EntityID: 1})
	j.Flush(context.Background())
	assert.Equal(t, uint64(1), j.Dropped())
	assert.Zero(t, j.Written())
}

func TestJournalStopFlushes(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, 4, time.Hour, zap.NewNop())
	j.Start(context.Background())
	j.RecordUndeliverable(UndeliverableRecord{EntityID: 3})
	j.Stop()

	_, u := store.counts()
	require.Equal(t, 1, u)
}
