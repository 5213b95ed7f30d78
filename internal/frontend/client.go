package frontend

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/scene-assistant/internal/audio"
	"github.com/lexiqai/scene-assistant/internal/observability"
	"github.com/lexiqai/scene-assistant/internal/pipeline"
)

const (
	sendBuffer   = 256
	writeTimeout = 5 * time.Second
)

// Client is one connected front end
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan interface{}
	done   chan struct{}
	logger zerolog.Logger

	mu     sync.RWMutex
	format audio.Format
	mic    bool

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *Client {
	id := "fe-" + uuid.New().String()
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan interface{}, sendBuffer),
		done:   make(chan struct{}),
		logger: observability.ComponentLogger("frontend").With().Str("client_id", id).Logger(),
		format: audio.Linear16k,
	}
}

func (c *Client) hasMic() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mic
}

func (c *Client) audioFormat() audio.Format {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format
}

// enqueue queues msg for the write loop, dropping it when the client is
// too slow
func (c *Client) enqueue(msg interface{}) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.logger.Warn().Msg("Send buffer full, dropping message")
		observability.RecordError("send_overflow", "frontend")
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writeLoop owns all writes to the connection
func (c *Client) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug().Err(err).Msg("WebSocket write failed")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop handles inbound events until the connection closes
func (c *Client) readLoop(h *Hub) {
	defer c.close()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Error().Err(err).Msg("Failed to parse front end message")
			c.enqueue(ControlMessage{Event: EventError, Message: "invalid message"})
			continue
		}

		switch msg.Event {
		case EventConnected:
			f := audio.ParseFormat(msg.Encoding)
			c.mu.Lock()
			c.format = f
			c.mic = true
			c.mu.Unlock()
			c.logger.Info().
				Str("encoding", string(f.Encoding)).
				Int("sample_rate", f.SampleRate).
				Msg("Front end stream connected")

		case EventTrigger:
			t, ok := pipeline.ParseTrigger(msg.Name)
			if !ok {
				c.enqueue(ControlMessage{Event: EventError, Message: "unknown trigger: " + msg.Name})
				continue
			}
			if err := h.trigger(t); err != nil {
				c.enqueue(ControlMessage{Event: EventError, Message: err.Error()})
			}

		case EventMedia:
			if msg.Media != nil {
				c.handleMedia(h, msg.Media)
			}

		case EventStop:
			// ends the microphone stream only; the connection stays open
			c.logger.Info().Msg("Front end stream stopped")
			c.mu.Lock()
			c.mic = false
			c.mu.Unlock()

		default:
			c.logger.Debug().Str("event", msg.Event).Msg("Unknown front end event")
		}
	}
}

// handleMedia decodes one microphone chunk into linear16 16 kHz
func (c *Client) handleMedia(h *Hub, media *Media) {
	if media.Payload == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to decode base64 audio")
		return
	}

	c.mu.Lock()
	c.mic = true
	f := c.format
	c.mu.Unlock()

	samples, err := audio.Decode(data, f, audio.SampleRate16k)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to decode audio")
		return
	}
	h.publishMic(audio.SamplesToBytes(samples))
}
