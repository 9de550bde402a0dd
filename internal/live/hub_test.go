package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case raw, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.Fatal(err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	return Event{}
}

func TestHubRoutesByStudent(t *testing.T) {
	hub := NewHub(nil, nil, zap.NewNop())
	alice := hub.Subscribe("u1")
	bob := hub.Subscribe("u2")
	admin := hub.Subscribe(Everyone)
	defer alice.Close()
	defer bob.Close()
	defer admin.Close()

	if err := hub.Publish(context.Background(), NewEvent(EntryUpdated, "u1", map[string]string{"id": "e1"})); err != nil {
		t.Fatal(err)
	}

	if evt := receive(t, alice); evt.Kind != EntryUpdated || evt.StudentID != "u1" {
		t.Errorf("alice got %+v", evt)
	}
	if evt := receive(t, admin); evt.StudentID != "u1" {
		t.Errorf("admin got %+v", evt)
	}
	select {
	case raw := <-bob.C():
		t.Errorf("bob received another student's event: %s", raw)
	default:
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(nil, nil, zap.NewNop())
	sub := hub.Subscribe("u1")

	for i := 0; i < sendBuffer+1; i++ {
		_ = hub.Publish(context.Background(), NewEvent(EntryCreated, "u1", nil))
	}
	if hub.Clients() != 0 {
		t.Fatalf("clients = %d, want slow subscriber removed", hub.Clients())
	}
	n := 0
	for range sub.C() {
		n++
	}
	if n != sendBuffer {
		t.Errorf("buffered events = %d, want %d", n, sendBuffer)
	}
	sub.Close()
}

func TestServeWSStreamsEvents(t *testing.T) {
	hub := NewHub([]string{"http://allowed.test"}, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "u1")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.test"}}); err == nil {
		t.Fatal("foreign origin accepted")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://allowed.test"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = hub.Publish(context.Background(), NewEvent(StudentUpdated, "u1", map[string]float64{"total_hours": 30}))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var evt Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.Kind != StudentUpdated || !strings.Contains(string(evt.Payload), "30") {
		t.Errorf("event = %+v", evt)
	}
}
