package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/platform/auth"
	"github.com/ehr/triage/internal/platform/events"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func newTestClient(hub *Hub, id string, topics ...string) *Client {
	return &Client{
		ID:     id,
		Topics: topics,
		Send:   make(chan []byte, sendBuffer),
		hub:    hub,
	}
}

func readEvent(t *testing.T, c *Client) events.Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var ev events.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, "c1", "facility/f1")

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount("facility/f1") != 1 {
		t.Fatalf("expected 1 client on facility/f1, got %d/%d", hub.ClientCount(), hub.TopicCount("facility/f1"))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount("facility/f1") != 0 {
		t.Fatal("expected hub to be empty after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestValidTopic(t *testing.T) {
	tests := map[string]bool{
		"facility/f1":           true,
		"facility/f1/emergency": true,
		"facility/":             false,
		"facility/f1/other":     false,
		"Patient/123":           false,
		"":                      false,
	}
	for topic, want := range tests {
		if got := ValidTopic(topic); got != want {
			t.Errorf("ValidTopic(%q) = %v, want %v", topic, got, want)
		}
	}
}

func TestHub_SubscribeIgnoresInvalidTopics(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, "c1")
	hub.Register(client)

	hub.ProcessMessage(context.Background(), client, ClientMessage{
		Action: ActionSubscribe,
		Topics: []string{"facility/f1", "facility/f1/emergency", "Patient/1"},
	})
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %v", client.Topics)
	}

	hub.ProcessMessage(context.Background(), client, ClientMessage{
		Action: ActionUnsubscribe,
		Topics: []string{"facility/f1"},
	})
	if hub.TopicCount("facility/f1") != 0 || hub.TopicCount("facility/f1/emergency") != 1 {
		t.Fatal("unexpected subscriptions after unsubscribe")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "facility/f1/emergency" {
		t.Fatalf("unexpected remaining topics %v", client.Topics)
	}
}

func TestHub_PublishReachesOnlySubscribers(t *testing.T) {
	hub := newTestHub()
	sub := newTestClient(hub, "sub", "facility/f1")
	other := newTestClient(hub, "other", "facility/f2")
	hub.Register(sub)
	hub.Register(other)

	ev, err := events.New(events.TypeTriageUpdated, events.FacilityTopic("f1"), "f1", "enc-1", nil)
	if err != nil {
		t.Fatalf("events.New: %v", err)
	}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := readEvent(t, sub)
	if got.Type != events.TypeTriageUpdated || got.EncounterID != "enc-1" {
		t.Fatalf("unexpected event %+v", got)
	}
	select {
	case <-other.Send:
		t.Fatal("facility/f2 subscriber must not receive facility/f1 events")
	default:
	}
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := newTestHub()
	client := &Client{ID: "slow", Topics: []string{"facility/f1"}, Send: make(chan []byte, 1), hub: hub}
	hub.Register(client)

	hub.Broadcast("facility/f1", events.Event{Type: "a"})
	hub.Broadcast("facility/f1", events.Event{Type: "b"})

	if len(client.Send) != 1 {
		t.Fatalf("expected 1 buffered message, got %d", len(client.Send))
	}
}

func TestHub_GetQueueSnapshot(t *testing.T) {
	hub := newTestHub()
	hub.SetSnapshotFunc(func(_ context.Context, facilityID string) (any, error) {
		if facilityID == "broken" {
			return nil, errors.New("boom")
		}
		return map[string]int{"total": 3}, nil
	})
	client := newTestClient(hub, "c1")
	hub.Register(client)

	hub.ProcessMessage(context.Background(), client, ClientMessage{Action: ActionGetQueue, FacilityID: "f1"})
	ev := readEvent(t, client)
	if ev.Type != events.TypeQueueUpdated || ev.FacilityID != "f1" {
		t.Fatalf("unexpected snapshot event %+v", ev)
	}
	var snap map[string]int
	if err := json.Unmarshal(ev.Data, &snap); err != nil || snap["total"] != 3 {
		t.Fatalf("unexpected snapshot payload %s (%v)", ev.Data, err)
	}

	hub.ProcessMessage(context.Background(), client, ClientMessage{Action: ActionGetQueue, FacilityID: "broken"})
	select {
	case <-client.Send:
		t.Fatal("failed snapshot must not be sent")
	default:
	}
}

func scopedContext(facilityIDs ...string) context.Context {
	ctx := auth.WithUser(context.Background(), "nurse-1", auth.RoleTriageNurse)
	return auth.WithFacilities(ctx, facilityIDs...)
}

func TestHub_SubscribeRespectsFacilityScope(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, "c1")
	hub.Register(client)

	hub.ProcessMessage(scopedContext("f1"), client, ClientMessage{
		Action: ActionSubscribe,
		Topics: []string{"facility/f1", "facility/f2", "facility/f2/emergency"},
	})
	if len(client.Topics) != 1 || client.Topics[0] != "facility/f1" {
		t.Fatalf("expected only facility/f1, got %v", client.Topics)
	}
	if hub.TopicCount("facility/f2") != 0 || hub.TopicCount("facility/f2/emergency") != 0 {
		t.Fatal("client must not be subscribed to another facility")
	}

	hub.Broadcast("facility/f2", events.Event{Type: events.TypeTriageUpdated, FacilityID: "f2"})
	select {
	case data := <-client.Send:
		t.Fatalf("unexpected event for foreign facility: %s", data)
	default:
	}
}

func TestHub_GetQueueRespectsFacilityScope(t *testing.T) {
	hub := newTestHub()
	calls := 0
	hub.SetSnapshotFunc(func(_ context.Context, facilityID string) (any, error) {
		calls++
		return map[string]string{"facility": facilityID}, nil
	})
	client := newTestClient(hub, "c1")
	hub.Register(client)
	ctx := scopedContext("f1")

	hub.ProcessMessage(ctx, client, ClientMessage{Action: ActionGetQueue, FacilityID: "f2"})
	select {
	case data := <-client.Send:
		t.Fatalf("snapshot of foreign facility must not be sent: %s", data)
	default:
	}
	if calls != 0 {
		t.Fatalf("snapshot loader must not run for a foreign facility, ran %d times", calls)
	}

	hub.ProcessMessage(ctx, client, ClientMessage{Action: ActionGetQueue, FacilityID: "f1"})
	if ev := readEvent(t, client); ev.FacilityID != "f1" {
		t.Fatalf("expected f1 snapshot, got %+v", ev)
	}

	admin := auth.WithFacilities(auth.WithUser(context.Background(), "root", auth.RoleAdmin), "f1")
	hub.ProcessMessage(admin, client, ClientMessage{Action: ActionGetQueue, FacilityID: "f2"})
	if ev := readEvent(t, client); ev.FacilityID != "f2" {
		t.Fatalf("admin must reach every facility, got %+v", ev)
	}
}

func TestHandler_RejectsForeignFacilityOnConnect(t *testing.T) {
	e := echo.New()
	scope := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(scopedContext("f1")))
			return next(c)
		}
	}
	hub := newTestHub()
	NewHandler(hub, nil).RegisterRoutes(e.Group("", scope))

	req := httptest.NewRequest(http.MethodGet, "/ws?facility=f2", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if hub.ClientCount() != 0 {
		t.Fatal("rejected connection must not register a client")
	}
}

func TestHandler_ScopedUpgradeIgnoresForeignSubscribe(t *testing.T) {
	hub := newTestHub()
	e := echo.New()
	scope := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(scopedContext("f1")))
			return next(c)
		}
	}
	NewHandler(hub, []string{"*"}).RegisterRoutes(e.Group("", scope))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?facility=f1"
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ClientMessage{Action: ActionSubscribe, Topics: []string{"facility/f2"}}); err != nil {
		t.Fatalf("send subscribe: %v", err)
	}
	// a later in-scope subscribe proves the foreign one was processed first
	if err := conn.WriteJSON(ClientMessage{Action: ActionSubscribe, Topics: []string{"facility/f1/emergency"}}); err != nil {
		t.Fatalf("send subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("facility/f1/emergency") != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount("facility/f1/emergency") != 1 {
		t.Fatal("expected in-scope subscription to succeed")
	}
	if hub.TopicCount("facility/f2") != 0 {
		t.Fatal("foreign facility subscription must be ignored")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient(hub, "c", "facility/f1")
			hub.Register(c)
			hub.Broadcast("facility/f1", events.Event{Type: "x"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	NewHandler(newTestHub(), nil).RegisterRoutes(e.Group(""))

	found := false
	for _, r := range e.Routes() {
		if r.Path == "/ws" && r.Method == http.MethodGet {
			found = true
		}
	}
	if !found {
		t.Fatal("expected GET /ws route to be registered")
	}
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	e := echo.New()
	NewHandler(newTestHub(), nil).RegisterRoutes(e.Group(""))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("plain HTTP request must not be upgraded")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := newTestHub()
	e := echo.New()
	NewHandler(hub, []string{"*"}).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?facility=f9"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("facility/f9") != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount("facility/f9") != 1 {
		t.Fatal("expected client subscribed to facility/f9 from query parameter")
	}

	if err := conn.WriteJSON(ClientMessage{Action: ActionSubscribe, Topics: []string{"facility/f9/emergency"}}); err != nil {
		t.Fatalf("send subscribe: %v", err)
	}
	for hub.TopicCount("facility/f9/emergency") != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast("facility/f9/emergency", events.Event{Type: events.TypeEmergency, FacilityID: "f9"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received events.Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if received.Type != events.TypeEmergency {
		t.Fatalf("expected %s, got %s", events.TypeEmergency, received.Type)
	}
}
