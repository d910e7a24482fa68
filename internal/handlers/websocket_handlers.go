package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"slidegen/internal/services"
)

// WebSocketHandler streams image task events of a presentation
type WebSocketHandler struct {
	hub      *services.Hub
	store    *services.PresentationStore
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(hub *services.Hub, store *services.PresentationStore, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:   hub,
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.Named("ws"),
	}
}

// Subscribe upgrades the connection and streams events until it closes
// GET /ws/presentations/{id}
func (h *WebSocketHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	deckID := mux.Vars(r)["id"]
	if _, err := h.store.Get(r.Context(), deckID); err != nil {
		writeError(w, http.StatusNotFound, "Presentation not found", codeNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Serve(deckID, conn)
}
