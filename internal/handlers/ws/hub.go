package ws

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrOffline is returned when a user has no open connection.
var ErrOffline = errors.New("user is offline")

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// ClientConnection wraps a WebSocket connection with metadata
type ClientConnection struct {
	Conn         Conn
	UserID       uint
	LastPong     time.Time
	SupportsGzip bool
	PingTicker   *time.Ticker
	CloseChan    chan struct{}

	writeMu sync.Mutex
}

// WriteJSON serializes writes; fiber websocket connections allow one writer at a time.
func (c *ClientConnection) WriteJSON(data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, jsonData)
}

func (c *ClientConnection) write(frameType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(frameType, data)
}

func (c *ClientConnection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
}

// Hub manages all active WebSocket connections
type Hub struct {
	clients      map[uint]*ClientConnection
	clientsMux   sync.RWMutex
	pingInterval time.Duration
	pongTimeout  time.Duration
	done         chan struct{}
	closeOnce    sync.Once
	log          zerolog.Logger
}

// NewHub creates a new Hub instance
func NewHub(pingInterval, pongTimeout time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if pongTimeout <= 0 {
		pongTimeout = 3 * pingInterval
	}
	hub := &Hub{
		clients:      make(map[uint]*ClientConnection),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		done:         make(chan struct{}),
		log:          *logging.Component("ws_hub"),
	}

	go hub.connectionHealthChecker()

	return hub
}

// Register adds a client connection with health monitoring. A newer
// connection of the same user replaces the older one.
func (h *Hub) Register(userID uint, conn *websocket.Conn, supportsGzip bool) *ClientConnection {
	// Set read deadline for ping/pong
	conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	conn.SetPongHandler(func(appData string) error {
		h.touch(userID)
		conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
		return nil
	})

	client := h.add(userID, conn, supportsGzip)
	go h.pingRoutine(client)
	return client
}

func (h *Hub) add(userID uint, conn Conn, supportsGzip bool) *ClientConnection {
	client := &ClientConnection{
		Conn:         conn,
		UserID:       userID,
		LastPong:     time.Now(),
		SupportsGzip: supportsGzip,
		PingTicker:   time.NewTicker(h.pingInterval),
		CloseChan:    make(chan struct{}),
	}

	h.clientsMux.Lock()
	if old, exists := h.clients[userID]; exists {
		old.PingTicker.Stop()
		close(old.CloseChan)
	} else {
		metrics.WebsocketConnections.Inc()
	}
	h.clients[userID] = client
	total := len(h.clients)
	h.clientsMux.Unlock()

	h.log.Info().Uint(logging.FieldUserID, userID).Int("total", total).Bool("gzip", supportsGzip).Msg("client connected")
	return client
}

// Unregister removes the user's connection if it is still client.
func (h *Hub) Unregister(client *ClientConnection) {
	h.clientsMux.Lock()
	current, exists := h.clients[client.UserID]
	if !exists || current != client {
		h.clientsMux.Unlock()
		return
	}
	client.PingTicker.Stop()
	close(client.CloseChan)
	delete(h.clients, client.UserID)
	count := len(h.clients)
	h.clientsMux.Unlock()

	metrics.WebsocketConnections.Dec()
	h.log.Info().Uint(logging.FieldUserID, client.UserID).Int("total", count).Msg("client disconnected")
}

func (h *Hub) touch(userID uint) {
	h.clientsMux.Lock()
	if client, exists := h.clients[userID]; exists {
		client.LastPong = time.Now()
	}
	h.clientsMux.Unlock()
}

// IsOnline checks if a user is connected
func (h *Hub) IsOnline(userID uint) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	_, exists := h.clients[userID]
	return exists
}

// SendToUser sends data to a specific user with optional compression.
// Offline users get ErrOffline; their receipts stay in the status store.
func (h *Hub) SendToUser(userID uint, data interface{}) error {
	h.clientsMux.RLock()
	client, exists := h.clients[userID]
	h.clientsMux.RUnlock()

	if !exists {
		return ErrOffline
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Uint(logging.FieldUserID, userID).Msg("failed to marshal event")
		return err
	}

	// Compress if supported and beneficial (> 512 bytes)
	finalData := jsonData
	frameType := websocket.TextMessage
	if client.SupportsGzip && len(jsonData) > 512 {
		compressed, err := compressData(jsonData)
		if err == nil && len(compressed) < len(jsonData) {
			finalData = compressed
			frameType = websocket.BinaryMessage
		}
	}

	if err := client.write(frameType, finalData); err != nil {
		h.log.Warn().Err(err).Uint(logging.FieldUserID, userID).Msg("write failed, dropping connection")
		h.Unregister(client)
		return err
	}

	return nil
}

// BroadcastToUsers sends data to the connected users among userIDs.
func (h *Hub) BroadcastToUsers(userIDs []uint, data interface{}) {
	for _, userID := range userIDs {
		if err := h.SendToUser(userID, data); err != nil && !errors.Is(err, ErrOffline) {
			h.log.Debug().Err(err).Uint(logging.FieldUserID, userID).Msg("broadcast failed")
		}
	}
}

// GetOnlineUsers returns list of currently connected user IDs
func (h *Hub) GetOnlineUsers() []uint {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()

	users := make([]uint, 0, len(h.clients))
	for userID := range h.clients {
		users = append(users, userID)
	}
	return users
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}

// Close stops background workers. Connections are closed by their handlers.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// pingRoutine sends periodic ping messages to keep connection alive
func (h *Hub) pingRoutine(client *ClientConnection) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Uint(logging.FieldUserID, client.UserID).Msg("ping routine recovered")
		}
	}()

	for {
		select {
		case <-client.CloseChan:
			return
		case <-h.done:
			return
		case <-client.PingTicker.C:
			if err := client.ping(); err != nil {
				h.log.Debug().Err(err).Uint(logging.FieldUserID, client.UserID).Msg("ping failed")
				h.Unregister(client)
				return
			}
		}
	}
}

// connectionHealthChecker monitors connection health and removes dead connections
func (h *Hub) connectionHealthChecker() {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.removeDead(time.Now())
		}
	}
}

func (h *Hub) removeDead(now time.Time) {
	h.clientsMux.RLock()
	var dead []*ClientConnection
	for _, client := range h.clients {
		if now.Sub(client.LastPong) > h.pongTimeout {
			dead = append(dead, client)
		}
	}
	h.clientsMux.RUnlock()

	for _, client := range dead {
		h.log.Info().Uint(logging.FieldUserID, client.UserID).Msg("removing dead connection (no pong received)")
		h.Unregister(client)
	}
}

// compressData compresses data using gzip
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)

	if _, err := gzipWriter.Write(data); err != nil {
		return nil, err
	}

	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
