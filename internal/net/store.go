package net

import (
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"golang.org/x/exp/slices"
)

// SessionStore tracks live sessions by ID and by bound entity.
// Tick goroutine only.
type SessionStore struct {
	byID     map[uint64]*Session
	byEntity map[ecs.EntityID]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		byID:     make(map[uint64]*Session),
		byEntity: make(map[ecs.EntityID]*Session),
	}
}

func (s *SessionStore) Add(sess *Session) {
	s.byID[sess.ID] = sess
}

// Remove forgets a session and its entity binding.
func (s *SessionStore) Remove(id uint64) *Session {
	sess := s.byID[id]
	if sess == nil {
		return nil
	}
	delete(s.byID, id)
	if sess.Entity != 0 && s.byEntity[sess.Entity] == sess {
		delete(s.byEntity, sess.Entity)
	}
	return sess
}

func (s *SessionStore) Get(id uint64) *Session { return s.byID[id] }

// Bind records sess as the client of entity, replacing any earlier session.
func (s *SessionStore) Bind(sess *Session, entity ecs.EntityID) {
	if sess.Entity != 0 && s.byEntity[sess.Entity] == sess {
		delete(s.byEntity, sess.Entity)
	}
	sess.Entity = entity
	s.byEntity[entity] = sess
}

// Unbind clears the entity binding of sess.
func (s *SessionStore) Unbind(sess *Session) {
	if sess.Entity != 0 && s.byEntity[sess.Entity] == sess {
		delete(s.byEntity, sess.Entity)
	}
	sess.Entity = 0
}

func (s *SessionStore) ByEntity(id ecs.EntityID) *Session { return s.byEntity[id] }

func (s *SessionStore) Len() int { return len(s.byID) }

// Raw exposes the id map for iteration. Do not mutate it.
func (s *SessionStore) Raw() map[uint64]*Session { return s.byID }

// ForEach visits sessions in ID order.
func (s *SessionStore) ForEach(fn func(*Session)) {
	ids := make([]uint64, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fn(s.byID[id])
	}
}
