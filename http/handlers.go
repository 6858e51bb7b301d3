package http

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"uno/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

type Handlers struct {
	manager *room.Manager
	logger  *zap.Logger
}

func NewHandlers(manager *room.Manager, logger *zap.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		logger:  logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// CreateRoom allocates a fresh room id. The room's game is created lazily
// on the first socket connection, not here.
func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	h.logger.Info("room allocated", zap.String("roomId", id))
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// HandleWebSocket upgrades the duplex socket for one room. A reconnecting
// client passes the player id it was assigned; first-timers get a fresh one
// via the YourID event.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}
	playerID := r.URL.Query().Get("playerId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.manager.HandleConnection(conn, roomID, playerID)
}

// Health reports liveness for external probes.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
