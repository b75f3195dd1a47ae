package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// HandoffRecord is one migration of a real entity between cells.
type HandoffRecord struct {
	EntityID int32
	From     uint64
	To       uint64
	Bytes    int
	Tick     uint64
	At       time.Time
}

// UndeliverableRecord is a cell message that found neither its entity nor
// a route.
type UndeliverableRecord struct {
	EntityID int32
	Kind     uint8
	From     uint64
	Cell     uint64
	At       time.Time
}

type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// InsertHandoffs bulk-inserts handoff records with COPY.
func (r *JournalRepo) InsertHandoffs(ctx context.Context, recs []HandoffRecord) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := r.db.Pool.CopyFrom(ctx,
		pgx.Identifier{"entity_handoffs"},
		[]string{"entity_id", "from_cell", "to_cell", "bytes", "tick", "created_at"},
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			h := recs[i]
			return []any{h.EntityID, int64(h.From), int64(h.To), int32(h.Bytes), int64(h.Tick), h.At}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("insert handoffs: %w", err)
	}
	return nil
}

func (r *JournalRepo) InsertUndeliverable(ctx context.Context, recs []UndeliverableRecord) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := r.db.Pool.CopyFrom(ctx,
		pgx.Identifier{"undeliverable_messages"},
		[]string{"entity_id", "kind", "from_cell", "cell", "created_at"},
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			u := recs[i]
			return []any{u.EntityID, int16(u.Kind), int64(u.From), int64(u.Cell), u.At}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("insert undeliverable: %w", err)
	}
	return nil
}

// RecentHandoffs returns the latest handoffs of one entity, newest first.
func (r *JournalRepo) RecentHandoffs(ctx context.Context, entityID int32, limit int) ([]HandoffRecord, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT entity_id, from_cell, to_cell, bytes, tick, created_at
		 FROM entity_handoffs WHERE entity_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query handoffs: %w", err)
	}
	defer rows.Close()

	var out []HandoffRecord
	for rows.Next() {
		var h HandoffRecord
		var from, to, tick int64
		var size int32
		if err := rows.Scan(&h.EntityID, &from, &to, &size, &tick, &h.At); err != nil {
			return nil, fmt.Errorf("scan handoff: %w", err)
		}
		h.From, h.To, h.Bytes, h.Tick = uint64(from), uint64(to), int(size), uint64(tick)
		out = append(out, h)
	}
	return out, rows.Err()
}
