package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"duoescrow/core/events"
	"duoescrow/core/types"
)

const (
	historyLimit   = 2048
	subscriberBuf  = 32
	wsWriteTimeout = 10 * time.Second
)

// Update is one event as delivered to stream subscribers.
type Update struct {
	Sequence uint64      `json:"sequence"`
	Cursor   string      `json:"cursor"`
	Event    types.Event `json:"event"`
}

// Hub keeps a bounded history of emitted events and broadcasts new ones to
// subscribers. Slow subscribers miss updates rather than stall emitters.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	history []Update
	subs    map[uint64]chan Update
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Update)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	rendered := events.Materialize(evt)
	if h == nil || rendered == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	update := Update{Sequence: h.seq, Cursor: strconv.FormatUint(h.seq, 10), Event: cloneEvent(rendered)}
	h.history = append(h.history, update)
	if len(h.history) > historyLimit {
		excess := len(h.history) - historyLimit
		trimmed := make([]Update, historyLimit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	for _, ch := range h.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns the retained updates after
// cursor. The subscription ends when ctx is done or cancel is called.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan Update, func(), []Update) {
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}
	updates := make(chan Update, subscriberBuf)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	backlog := make([]Update, 0, len(h.history))
	for _, entry := range h.history {
		if entry.Sequence > since {
			backlog = append(backlog, entry)
		}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func cloneEvent(evt *types.Event) types.Event {
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	return types.Event{Type: evt.Type, Attributes: attrs}
}

// Handler serves the event stream over websocket. The optional "cursor"
// query parameter resumes after a sequence number and "agreement" restricts
// the stream to one agreement id.
func (h *Hub) Handler(originPatterns []string) http.Handler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		agreement := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("agreement")))
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "stream closed")
		ctx := conn.CloseRead(r.Context())
		if err := h.serve(ctx, conn, cursor, agreement); err != nil {
			if websocket.CloseStatus(err) == -1 {
				_ = conn.Close(websocket.StatusInternalError, "stream error")
			}
		}
	})
}

func (h *Hub) serve(ctx context.Context, conn *websocket.Conn, cursor, agreement string) error {
	updates, cancel, backlog := h.Subscribe(ctx, cursor)
	defer cancel()
	for _, update := range backlog {
		if err := writeUpdate(ctx, conn, update, agreement); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeUpdate(ctx, conn, update, agreement); err != nil {
				return err
			}
		}
	}
}

func writeUpdate(ctx context.Context, conn *websocket.Conn, update Update, agreement string) error {
	if agreement != "" && update.Event.Attributes["id"] != agreement {
		return nil
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
