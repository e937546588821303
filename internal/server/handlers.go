package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"circuitrunners/internal/broadcast"
	"circuitrunners/internal/db"
	"circuitrunners/internal/events"
	"circuitrunners/internal/orchestrator"
	"circuitrunners/internal/track"
	"circuitrunners/internal/wshub"
	"circuitrunners/pkg/metrics"
)

const (
	defaultRaceLimit = 20
	maxRaceLimit     = 100
)

type Server struct {
	Orch        *orchestrator.Orchestrator
	Hub         *wshub.Hub
	Broadcaster *broadcast.Broadcaster
	Metrics     *metrics.Manager
	Logger      *zap.Logger
	DB          *db.DB // nil if no database configured

	ClientBuffer int
	Started      time.Time
}

func (s *Server) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// handleWS serves one game client. Messages from a connection are applied
// in the order they are read.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log().Warn("websocket accept", zap.Error(err))
		return
	}

	id := uuid.NewString()
	client := wshub.NewClient(id, conn, s.ClientBuffer)
	s.Hub.Register(client)
	log := s.log().With(zap.String("conn", id))
	log.Debug("client connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		s.Orch.Disconnect(id)
		s.Hub.Unregister(id)
		conn.Close(websocket.StatusNormalClosure, "")
		log.Debug("client disconnected")
	}()

	go client.WritePump(ctx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug("websocket read", zap.Error(err))
			}
			return
		}
		s.dispatch(log, id, data)
	}
}

func (s *Server) dispatch(log *zap.Logger, id string, data []byte) {
	env, err := events.Decode(data)
	if err != nil {
		log.Debug("malformed message dropped", zap.Error(err))
		return
	}

	switch env.Event {
	case events.JoinGame:
		var p events.JoinGamePayload
		if !decodePayload(log, env, &p) {
			return
		}
		if _, err := s.Orch.Join(id, p.RoomID, p.PlayerName); err != nil {
			log.Warn("join failed", zap.Error(err))
		}
	case events.StartRace:
		if err := s.Orch.StartRace(id); err != nil {
			log.Debug("start rejected", zap.Error(err))
		}
	case events.RestartRace:
		if err := s.Orch.RestartRace(id); err != nil {
			log.Debug("restart rejected", zap.Error(err))
		}
	case events.LeaveGame:
		s.Orch.Leave(id)
	case events.PositionUpdate:
		var p events.PositionPayload
		if !decodePayload(log, env, &p) {
			return
		}
		s.Orch.ReportPosition(id, track.Vec3{X: p.X, Y: p.Y, Z: p.Z})
	case events.CheckpointReached:
		var p events.CheckpointPayload
		if !decodePayload(log, env, &p) {
			return
		}
		if p.CheckpointIndex == nil {
			log.Debug("checkpoint without index dropped")
			return
		}
		s.Orch.ReportCheckpoint(id, *p.CheckpointIndex)
	default:
		log.Debug("unknown event dropped", zap.String("event", env.Event))
	}
}

// decodePayload treats a missing payload as an empty object.
func decodePayload(log *zap.Logger, env events.Envelope, v any) bool {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return true
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		log.Debug("malformed payload dropped", zap.String("event", env.Event), zap.Error(err))
		return false
	}
	return true
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orch.Rooms())
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.Orch.Lookup(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleRoomEvents streams room lifecycle events as server-sent events.
func (s *Server) handleRoomEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	msgChan := s.Broadcaster.Subscribe()
	defer s.Broadcaster.Unsubscribe(msgChan)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\n", msg.Event)
			fmt.Fprintf(w, "data: %s\n\n", msg.Data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleRaces(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "race history disabled"})
		return
	}
	limit := defaultRaceLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, maxRaceLimit)
	}
	races, err := s.DB.RecentRaces(r.Context(), limit)
	if err != nil {
		s.log().Error("recent races", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if races == nil {
		races = []db.RaceRecord{}
	}
	writeJSON(w, http.StatusOK, races)
}

func (s *Server) handleRace(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "race history disabled"})
		return
	}
	race, err := s.DB.Race(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrRaceNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "race not found"})
		return
	}
	if err != nil {
		s.log().Error("race lookup", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, race)
}

type healthResponse struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
	Error  string  `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Uptime: time.Since(s.Started).Seconds()}
	if s.DB != nil {
		if err := s.DB.Ping(r.Context()); err != nil {
			resp.Status = "db_error"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
