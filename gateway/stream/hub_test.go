package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"duoescrow/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func agreementEvent(eventType, id string) testEvent {
	return testEvent{&types.Event{Type: eventType, Attributes: map[string]string{"id": id}}}
}

func TestHubBacklogAndBroadcast(t *testing.T) {
	hub := NewHub()
	hub.Emit(agreementEvent("escrow.agreement.created", "aa"))
	hub.Emit(agreementEvent("escrow.payment.received", "aa"))

	updates, cancel, backlog := hub.Subscribe(context.Background(), "1")
	defer cancel()
	if len(backlog) != 1 || backlog[0].Sequence != 2 {
		t.Fatalf("unexpected backlog %+v", backlog)
	}

	hub.Emit(agreementEvent("escrow.agreement.completed", "aa"))
	select {
	case update := <-updates:
		if update.Event.Type != "escrow.agreement.completed" || update.Cursor != "3" {
			t.Fatalf("unexpected update %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected broadcast")
	}

	cancel()
	if hub.Subscribers() != 0 {
		t.Fatalf("expected subscription removed")
	}
	hub.Emit(agreementEvent("escrow.agreement.created", "bb"))
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	_, cancel, _ := hub.Subscribe(context.Background(), "")
	defer cancel()
	for i := 0; i < subscriberBuf*2; i++ {
		hub.Emit(agreementEvent("escrow.payment.received", "aa"))
	}
}

func TestHubWebsocketFiltersByAgreement(t *testing.T) {
	hub := NewHub()
	hub.Emit(agreementEvent("escrow.agreement.created", "bb"))
	hub.Emit(agreementEvent("escrow.agreement.created", "aa"))

	srv := httptest.NewServer(hub.Handler(nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?agreement=AA"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var update Update
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if update.Sequence != 2 || update.Event.Attributes["id"] != "aa" {
		t.Fatalf("unexpected update %+v", update)
	}
}
