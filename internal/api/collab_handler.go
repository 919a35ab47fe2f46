package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tbickmore/relay-core/internal/api/shared"
	"github.com/tbickmore/relay-core/internal/collab"
)

// CollabHandler bridges websocket connections to the collaboration engine.
// Each connection serves exactly one participant on one document; the first
// frame must be a join message.
type CollabHandler struct {
	engine   *collab.Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewCollabHandler creates a CollabHandler backed by the given engine.
func NewCollabHandler(engine *collab.Engine, logger *slog.Logger) *CollabHandler {
	return &CollabHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API carries no credentials; origin checks belong to the
			// deployment's edge.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "collab_handler"),
	}
}

// Presence handles GET /collab/{doc}/presence.
func (h *CollabHandler) Presence(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc")

	records, err := h.engine.Presence(docID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, PresenceResponse{
		DocumentID:   docID,
		Participants: records,
		FetchedAt:    time.Now(),
	})
}

// Connect handles GET /collab/{doc}/ws, upgrading to a websocket session.
func (h *CollabHandler) Connect(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed",
			"document_id", docID,
			"error", err)
		return
	}
	defer conn.Close()

	wc := &wsConn{conn: conn}

	// The first frame establishes the participant identity.
	var first ClientMessage
	if err := conn.ReadJSON(&first); err != nil {
		return
	}
	if first.Type != "join" || first.Participant == "" {
		_ = wc.writeJSON(ServerMessage{
			Type:  "reject",
			Error: "first message must be a join with a participant ID",
		})
		return
	}

	info, events, err := h.engine.Join(docID, first.Participant)
	if err != nil {
		_ = wc.writeJSON(ServerMessage{Type: "reject", Error: GetSafeErrorMessage(err)})
		return
	}
	participantID := first.Participant

	logger := h.logger.With(
		"document_id", docID,
		"participant", participantID,
	)
	logger.Info("websocket session opened")

	_ = wc.writeJSON(ServerMessage{
		Type:       "joined",
		DocumentID: docID,
		Session:    info,
	})

	// Forward session events until the engine closes the channel, which
	// happens on leave or presence expiry.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for event := range events {
			err := wc.writeJSON(ServerMessage{
				Type:        string(event.Type),
				DocumentID:  event.DocumentID,
				Participant: event.Participant,
				Operation:   event.Operation,
				Cursor:      event.Cursor,
			})
			if err != nil {
				return
			}
		}
		// Engine-side removal (heartbeat timeout): tell the client before
		// the connection drops.
		_ = wc.control(websocket.CloseGoingAway, "session closed")
	}()

	h.readLoop(wc, docID, participantID, logger)

	// Reader is done; make sure the participant is detached so the event
	// channel closes and the forwarder exits.
	_ = h.engine.Leave(docID, participantID)
	wg.Wait()
	logger.Info("websocket session closed")
}

// readLoop consumes client frames until the connection errors or the client
// leaves.
func (h *CollabHandler) readLoop(wc *wsConn, docID, participantID string, logger *slog.Logger) {
	for {
		var msg ClientMessage
		if err := wc.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case "operation":
			if msg.Operation == nil {
				_ = wc.writeJSON(ServerMessage{
					Type:  "reject",
					Error: "operation message without an operation",
				})
				continue
			}
			accepted, err := h.engine.SubmitOperation(docID, participantID, *msg.Operation)
			if err != nil {
				_ = wc.writeJSON(ServerMessage{
					Type:  "reject",
					Error: GetSafeErrorMessage(err),
				})
				continue
			}
			_ = wc.writeJSON(ServerMessage{
				Type:       "ack",
				DocumentID: docID,
				Operation:  &accepted,
			})

		case "heartbeat":
			if err := h.engine.Heartbeat(docID, participantID, msg.Cursor); err != nil {
				_ = wc.writeJSON(ServerMessage{
					Type:  "reject",
					Error: GetSafeErrorMessage(err),
				})
			}

		case "leave":
			return

		default:
			_ = wc.writeJSON(ServerMessage{
				Type:  "reject",
				Error: "unknown message type",
			})
		}
	}
}

// wsConn serializes writes to a websocket connection. The reader goroutine
// and the event forwarder both write, and gorilla/websocket allows only one
// concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) control(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
}
