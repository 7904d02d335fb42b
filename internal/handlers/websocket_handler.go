package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"github.com/noteduco342/om-delivery/internal/delivery"
	"github.com/noteduco342/om-delivery/internal/handlers/ws"
	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/service"
)

type WebSocketHandler struct {
	messageService *service.MessageService
	engine         *delivery.Engine
	hub            *ws.Hub
	debug          bool
}

func NewWebSocketHandler(messageService *service.MessageService, engine *delivery.Engine, hub *ws.Hub, debug bool) *WebSocketHandler {
	return &WebSocketHandler{
		messageService: messageService,
		engine:         engine,
		hub:            hub,
		debug:          debug,
	}
}

// HandleWebSocket serves one client. Every connection owns a delivery
// tracker; its sessions end when the connection does.
func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	userID := c.Locals("userID").(uint)

	// Check if client supports gzip compression (via query param or header)
	supportsGzip := c.Query("gzip") == "1" || c.Headers("X-Supports-Gzip") == "1"

	client := h.hub.Register(userID, c, supportsGzip)
	tracker := h.engine.NewTracker()

	log := logging.Component("websocket").With().
		Uint(logging.FieldUserID, userID).
		Str("tracker_id", tracker.ID()).
		Logger()
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), log))

	defer func() {
		cancel()
		tracker.Close()
		h.hub.Unregister(client)
		log.Info().Msg("websocket closed")
	}()

	msgCtx := &ws.MessageContext{
		Ctx:            ctx,
		UserID:         userID,
		Client:         client,
		Hub:            h.hub,
		MessageService: h.messageService,
		Tracker:        tracker,
	}

	for {
		messageType, messageBytes, err := c.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("read failed")
			break
		}

		if h.debug {
			log.Debug().Int("frame_type", messageType).Int("size", len(messageBytes)).Msg("ws_recv")
		}

		// Decompress if binary message (gzip compressed)
		if messageType == websocket.BinaryMessage {
			decompressed, err := ws.DecompressMessage(messageBytes)
			if err != nil {
				ws.SendError(client, "DECOMPRESSION_FAILED", "Failed to decompress message", err.Error())
				continue
			}
			messageBytes = decompressed
		}

		msg, err := ws.Deserialize(messageBytes)
		if err != nil {
			ws.SendError(client, "INVALID_MESSAGE", "Invalid message format", err.Error())
			continue
		}

		if err := msg.Process(msgCtx); err != nil {
			log.Warn().Err(err).Str("type", msg.GetType()).Msg("failed to process message")
			ws.SendError(client, ws.ErrorCode(err), "Failed to process message", err.Error())
		}
	}
}
