package frontend

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/scene-assistant/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	// Front ends run on the local network
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// TriggerResponse is the body of a trigger request
type TriggerResponse struct {
	Trigger string `json:"trigger"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// HandleWS upgrades a front end connection and serves it until it closes
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	c := newClient(conn)
	h.add(c)
	defer h.remove(c)

	go c.writeLoop()
	c.readLoop(h)
}

// HandleTrigger serves POST /triggers/{name}
func (h *Hub) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	t, ok := pipeline.ParseTrigger(name)
	if !ok {
		writeTrigger(w, http.StatusNotFound, TriggerResponse{Trigger: name, Status: "unknown"})
		return
	}

	if err := h.trigger(t); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrNotRunning) {
			code = http.StatusServiceUnavailable
		}
		writeTrigger(w, code, TriggerResponse{Trigger: name, Status: "rejected", Error: err.Error()})
		return
	}
	writeTrigger(w, http.StatusAccepted, TriggerResponse{Trigger: name, Status: "accepted"})
}

func writeTrigger(w http.ResponseWriter, code int, resp TriggerResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
