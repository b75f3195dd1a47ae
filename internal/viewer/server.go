package viewer

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the latest published snapshot over HTTP and streams it to
// websocket viewers. Publish is the only call made from the tick goroutine.
type Server struct {
	latest atomic.Pointer[Snapshot]
	router *mux.Router
	http   *http.Server
	poll   time.Duration
	log    *zap.Logger

	viewers atomic.Int32
}

func NewServer(addr string, log *zap.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		poll:   100 * time.Millisecond,
		log:    log.With(zap.String("component", "viewer")),
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/snapshot", s.handleSnapshot).Methods("GET")
	s.router.HandleFunc("/spaces", s.handleSpaces).Methods("GET")
	s.router.HandleFunc("/spaces/{space_id:[0-9]+}", s.handleSpace).Methods("GET")
	s.router.HandleFunc("/entities/{entity_id:-?[0-9]+}", s.handleEntity).Methods("GET")
	s.router.HandleFunc("/ws/spaces/{space_id:[0-9]+}", s.handleStream)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Publish swaps in a new snapshot.
func (s *Server) Publish(snap *Snapshot) { s.latest.Store(snap) }

func (s *Server) Latest() *Snapshot { return s.latest.Load() }

func (s *Server) Viewers() int { return int(s.viewers.Load()) }

func (s *Server) Start() {
	go func() {
		s.log.Info("空間檢視器啟動", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("空間檢視器錯誤", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) snapshot(w http.ResponseWriter) *Snapshot {
	snap := s.latest.Load()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no snapshot yet"})
	}
	return snap
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	if snap := s.snapshot(w); snap != nil {
		writeJSON(w, http.StatusOK, snap)
	}
}

type spaceSummary struct {
	ID       uint32 `json:"id"`
	Entities int    `json:"entities"`
}

func (s *Server) handleSpaces(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	out := make([]spaceSummary, 0, len(snap.Spaces))
	for _, sp := range snap.Spaces {
		out = append(out, spaceSummary{ID: sp.ID, Entities: len(sp.Entities)})
	}
	writeJSON(w, http.StatusOK, out)
}

func spaceParam(r *http.Request) (uint32, bool) {
	v, err := strconv.ParseUint(mux.Vars(r)["space_id"], 10, 32)
	return uint32(v), err == nil
}

func (s *Server) handleSpace(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	id, ok := spaceParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad space id"})
		return
	}
	sp := snap.Space(id)
	if sp == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "space not found"})
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["entity_id"], 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad entity id"})
		return
	}
	e, space := snap.Entity(int32(id))
	if e == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "entity not found"})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Space uint32 `json:"space"`
		*EntitySnapshot
	}{space, e})
}

type streamFrame struct {
	Tick  uint64         `json:"tick"`
	Space *SpaceSnapshot `json:"space"`
}

// handleStream pushes the space every time a newer snapshot is published.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, ok := spaceParam(r)
	if !ok {
		http.Error(w, "bad space id", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket 升級失敗", zap.Error(err))
		return
	}
	defer conn.Close()
	s.viewers.Add(1)
	defer s.viewers.Add(-1)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	var sent *Snapshot
	for {
		if snap := s.latest.Load(); snap != nil && snap != sent {
			sent = snap
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(streamFrame{Tick: snap.Tick, Space: snap.Space(id)}); err != nil {
				s.log.Debug("檢視器斷線", zap.Error(err))
				return
			}
		}
		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
