package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Gesture feed over WebSocket
// ============================================================================
// Clients connect to /ws/gestures and receive:
//   - state_init        once, with the status snapshot
//   - gesture_received  a request was accepted
//   - action_performed  a request resolved into an action
//   - gesture_dropped   a gated request was dropped (near or timeout)
//   - camera_gesture    the camera-launch signal went out
//   - torch_changed     the hardware reported a new torch state
//
// Frames are JSON text messages: {type, ts, data}. Each client has its own
// write pump; a client whose queue fills up is disconnected.
// ============================================================================

type feedGestureData struct {
	RequestID string `json:"request_id"`
	Scancode  int    `json:"scancode"`
	Gesture   string `json:"gesture,omitempty"`
	Action    string `json:"action,omitempty"`
	Gated     bool   `json:"gated"`
	Reason    string `json:"reason,omitempty"`
}

type feedTorchData struct {
	Camera  string `json:"camera"`
	Enabled bool   `json:"enabled"`
}

// FeedEvent is one outbound feed message before serialisation.
type FeedEvent struct {
	Type string
	Data any
	At   time.Time
}

type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// GestureFeed collects daemon notifications into a channel for the broadcaster.
// Publishing never blocks the caller.
type GestureFeed struct {
	events chan FeedEvent
	logger *slog.Logger
}

func NewGestureFeed(buffer int, logger *slog.Logger) *GestureFeed {
	if buffer <= 0 {
		buffer = 64
	}
	return &GestureFeed{events: make(chan FeedEvent, buffer), logger: logger}
}

func (f *GestureFeed) Events() <-chan FeedEvent { return f.events }

func (f *GestureFeed) publish(ev FeedEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case f.events <- ev:
	default:
		f.logger.Warn("gesture feed full, dropping event", "type", ev.Type)
	}
}

// DispatchNotice is wired as the dispatcher's Notify hook.
func (f *GestureFeed) DispatchNotice(n DispatchNotice) {
	data := feedGestureData{
		RequestID: n.RequestID,
		Scancode:  n.Scancode,
		Gesture:   n.Gesture,
		Action:    n.Action,
		Gated:     n.Gated,
	}
	switch n.Outcome {
	case "":
		f.publish(FeedEvent{Type: "gesture_received", Data: data})
	case OutcomePerformed:
		f.publish(FeedEvent{Type: "action_performed", Data: data})
	default:
		data.Reason = string(n.Outcome)
		f.publish(FeedEvent{Type: "gesture_dropped", Data: data})
	}
}

// ActionPerformed implements ActionObserver.
func (f *GestureFeed) ActionPerformed(a Action) {
	if _, ok := a.(LaunchCameraGesture); ok {
		f.publish(FeedEvent{Type: "camera_gesture"})
	}
}

// TorchChanged is wired as the torch session's OnChange hook.
func (f *GestureFeed) TorchChanged(cameraID string, enabled bool) {
	f.publish(FeedEvent{Type: "torch_changed", Data: feedTorchData{Camera: cameraID, Enabled: enabled}})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	SendBuf      int // per-client queue, default 32
	BroadcastBuf int // hub inbound queue, default 128
}

func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run fans out broadcasts until ctx is canceled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping")
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			for c := range clients {
				c.close()
			}
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// BroadcastBytes queues a serialized frame. It drops the frame when the hub
// is backed up.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	logger     *slog.Logger

	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// close ends the write pump and the connection. Safe to call repeatedly.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards client frames; it exists to notice disconnects.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

// SnapshotFunc produces the state_init payload.
type SnapshotFunc func(ctx context.Context) (StatusSnapshot, error)

type Server struct {
	logger   *slog.Logger
	hub      *Hub
	snapshot SnapshotFunc
}

func NewServer(logger *slog.Logger, snapshot SnapshotFunc, cfg HubConfig) *Server {
	return &Server{
		logger:   logger,
		hub:      NewHub(logger, cfg),
		snapshot: snapshot,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Register(mux *http.ServeMux, path string) {
	mux.HandleFunc(path, s.handleFeedWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleFeedWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Queue state_init before registering so it is the first frame.
	if s.snapshot != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		snap, err := s.snapshot(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("ws snapshot failed", "error", err)
		} else if msg, err := marshalFeed(FeedEvent{Type: "state_init", Data: snap, At: time.Now().UTC()}); err == nil {
			client.send <- msg
		}
	}

	s.hub.register <- client

	// Pumps outlive the request; the hub and socket errors end them.
	go client.writePump()
	go client.readPump()
}

func marshalFeed(ev FeedEvent) ([]byte, error) {
	ts := ev.At
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// RunBroadcaster serialises feed events and hands them to the hub.
func RunBroadcaster(ctx context.Context, src <-chan FeedEvent, hub *Hub, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}
			msg, err := marshalFeed(ev)
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
				continue
			}
			hub.BroadcastBytes(msg)
		}
	}
}
