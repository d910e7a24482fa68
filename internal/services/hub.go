package services

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"slidegen/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 32
)

// TaskEvent is pushed to websocket subscribers of a presentation whenever
// one of its image tasks changes state
type TaskEvent struct {
	Type           string            `json:"type"`
	PresentationID string            `json:"presentation_id"`
	SlideID        string            `json:"slide_id"`
	TaskID         string            `json:"task_id"`
	Status         models.TaskStatus `json:"status"`
	ImageURL       string            `json:"image_url,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Broadcaster publishes task events
type Broadcaster interface {
	Broadcast(ev TaskEvent)
}

type hubClient struct {
	deckID string
	conn   *websocket.Conn
	send   chan TaskEvent
}

// Hub fans task events out to the websocket connections subscribed to each
// presentation
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*hubClient]struct{}
	log     *zap.Logger
}

// NewHub creates an empty hub
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]map[*hubClient]struct{}),
		log:     log.Named("hub"),
	}
}

// Serve subscribes conn to deckID and blocks until the connection closes
func (h *Hub) Serve(deckID string, conn *websocket.Conn) {
	c := &hubClient{deckID: deckID, conn: conn, send: make(chan TaskEvent, clientSendSize)}
	h.add(c)
	h.log.Debug("Client subscribed", zap.String("presentation", deckID), zap.Int("clients", h.Count(deckID)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()
	h.readPump(c)

	h.remove(c)
	<-done
	h.log.Debug("Client unsubscribed", zap.String("presentation", deckID))
}

// Broadcast sends ev to every subscriber of its presentation. Slow clients
// whose buffer is full miss the event.
func (h *Hub) Broadcast(ev TaskEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[ev.PresentationID] {
		select {
		case c.send <- ev:
		default:
			h.log.Warn("Dropping event for slow client", zap.String("presentation", ev.PresentationID))
		}
	}
}

// Count returns the number of subscribers of a presentation
func (h *Hub) Count(deckID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[deckID])
}

func (h *Hub) add(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.deckID]
	if !ok {
		set = make(map[*hubClient]struct{})
		h.clients[c.deckID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.deckID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.deckID)
	}
	close(c.send)
}

// readPump discards client messages and keeps the connection alive
func (h *Hub) readPump(c *hubClient) {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
