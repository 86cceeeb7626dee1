// Package websocket pushes facility triage events to connected dashboards.
// Clients subscribe to facility topics and receive every event published to
// them; they may also request the current queue snapshot of a facility.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/platform/auth"
	"github.com/ehr/triage/internal/platform/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256

	topicPrefix = "facility/"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionGetQueue    = "get_queue"
)

// ClientMessage is an inbound message from a dashboard.
type ClientMessage struct {
	Action     string   `json:"action"`
	Topics     []string `json:"topics,omitempty"`
	FacilityID string   `json:"facility_id,omitempty"`
}

// SnapshotFunc loads the current queue of a facility for get_queue requests.
type SnapshotFunc func(ctx context.Context, facilityID string) (any, error)

// Client is a single dashboard connection.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
	hub    *Hub
}

// Hub tracks clients and their facility subscriptions. It implements
// events.Publisher.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	all      map[*Client]struct{}
	snapshot SnapshotFunc
	logger   zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

// SetSnapshotFunc installs the queue loader used by get_queue.
func (h *Hub) SetSnapshotFunc(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// ValidTopic reports whether topic names a facility stream.
func ValidTopic(topic string) bool {
	_, ok := topicFacility(topic)
	return ok
}

// topicFacility returns the facility a valid topic belongs to.
func topicFacility(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok || rest == "" {
		return "", false
	}
	id, sub, nested := strings.Cut(rest, "/")
	if id == "" || (nested && sub != "emergency") {
		return "", false
	}
	return id, true
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	h.addTopicsLocked(client, client.Topics)
}

// Unregister drops the client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	h.removeTopicsLocked(client, client.Topics)
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client. Invalid topics and topics
// of facilities the identity in ctx may not access are ignored.
func (h *Hub) Subscribe(ctx context.Context, client *Client, topics []string) {
	valid := make([]string, 0, len(topics))
	for _, t := range topics {
		id, ok := topicFacility(t)
		if !ok {
			continue
		}
		if !auth.CanAccessFacility(ctx, id) {
			h.logger.Warn().Str("client", client.ID).Str("topic", t).Msg("subscription to foreign facility refused")
			continue
		}
		valid = append(valid, t)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.addTopicsLocked(client, valid)
	client.Topics = append(client.Topics, valid...)
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeTopicsLocked(client, topics)
	drop := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		drop[t] = struct{}{}
	}
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, ok := drop[t]; !ok {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) addTopicsLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

func (h *Hub) removeTopicsLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
}

// ProcessMessage dispatches an inbound client message.
func (h *Hub) ProcessMessage(ctx context.Context, client *Client, msg ClientMessage) {
	switch msg.Action {
	case ActionSubscribe:
		h.Subscribe(ctx, client, msg.Topics)
	case ActionUnsubscribe:
		h.Unsubscribe(client, msg.Topics)
	case ActionGetQueue:
		h.sendSnapshot(ctx, client, msg.FacilityID)
	default:
		h.logger.Debug().Str("client", client.ID).Str("action", msg.Action).Msg("unknown client action")
	}
}

func (h *Hub) sendSnapshot(ctx context.Context, client *Client, facilityID string) {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil || facilityID == "" {
		return
	}
	if !auth.CanAccessFacility(ctx, facilityID) {
		h.logger.Warn().Str("client", client.ID).Str("facility_id", facilityID).Msg("queue snapshot for foreign facility refused")
		return
	}

	snap, err := fn(ctx, facilityID)
	if err != nil {
		h.logger.Warn().Err(err).Str("facility_id", facilityID).Msg("queue snapshot for websocket client failed")
		return
	}
	ev, err := events.New(events.TypeQueueUpdated, events.FacilityTopic(facilityID), facilityID, "", snap)
	if err != nil {
		h.logger.Error().Err(err).Msg("build queue snapshot event")
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal queue snapshot event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// Broadcast sends event to every subscriber of topic. Slow clients whose
// buffer is full miss the event.
func (h *Hub) Broadcast(topic string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client", client.ID).Str("topic", topic).Msg("client buffer full, event dropped")
		}
	}
}

// Publish implements events.Publisher.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Handler upgrades HTTP requests to websocket connections bound to a Hub.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler builds a handler. An empty allowedOrigins list, or one holding
// "*", accepts every origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the connection and subscribes the client to the
// facility named by the optional facility query parameter. Later subscribe
// and get_queue requests are checked against the identity of the upgrade
// request.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	ctx := context.WithoutCancel(c.Request().Context())
	fid := c.QueryParam("facility")
	if fid != "" && !auth.CanAccessFacility(ctx, fid) {
		return echo.NewHTTPError(http.StatusForbidden, "access to facility denied")
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:   uuid.New().String(),
		Send: make(chan []byte, sendBuffer),
		hub:  wsh.hub,
	}
	if fid != "" {
		client.Topics = []string{events.FacilityTopic(fid)}
	}
	wsh.hub.Register(client)

	go wsh.writePump(client, ws)
	go wsh.readPump(ctx, client, ws)
	return nil
}

func (wsh *Handler) readPump(ctx context.Context, client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(ctx, client, msg)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
