package live

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"servicehours/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 32
)

// Everyone receives the events of every student. Admin dashboards use it.
const Everyone = "*"

// Subscription receives the encoded events of one student.
type Subscription struct {
	hub       *Hub
	studentID string
	send      chan []byte
}

// C yields JSON-encoded events. It is closed when the subscription ends.
func (s *Subscription) C() <-chan []byte { return s.send }

func (s *Subscription) Close() { s.hub.remove(s) }

// Hub fans events out to the subscriptions of the affected student. A
// subscriber whose buffer is full is dropped rather than slowing publishers.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]map[*Subscription]struct{}
	upgrader websocket.Upgrader
	metrics  *metrics.Collectors
	logger   *zap.Logger
}

// NewHub creates a hub. allowedOrigins limits browser WebSocket origins; an
// empty list or "*" allows any origin.
func NewHub(allowedOrigins []string, m *metrics.Collectors, logger *zap.Logger) *Hub {
	h := &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		metrics: m,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowedOrigins) == 0 ||
				slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Subscribe registers interest in studentID's events.
func (h *Hub) Subscribe(studentID string) *Subscription {
	s := &Subscription{hub: h, studentID: studentID, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.subs[studentID] == nil {
		h.subs[studentID] = make(map[*Subscription]struct{})
	}
	h.subs[studentID][s] = struct{}{}
	h.mu.Unlock()
	h.metrics.LiveClients(1)
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Subscription) {
	set, ok := h.subs[s.studentID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	close(s.send)
	if len(set) == 0 {
		delete(h.subs, s.studentID)
	}
	h.metrics.LiveClients(-1)
}

// Publish delivers evt to this process's subscribers.
func (h *Hub) Publish(_ context.Context, evt Event) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range []string{evt.StudentID, Everyone} {
		for s := range h.subs[key] {
			select {
			case s.send <- raw:
			default:
				h.logger.Warn("dropping slow live subscriber", zap.String("student_id", s.studentID))
				h.removeLocked(s)
			}
		}
	}
	return nil
}

// Clients returns the number of open subscriptions.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// ServeWS upgrades the request and streams studentID's events until the
// peer goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, studentID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sub := h.Subscribe(studentID)
	h.logger.Debug("live stream opened",
		zap.String("student_id", studentID),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	go writePump(conn, sub)
	go readPump(conn, sub, h.logger)
	return nil
}

// readPump discards client frames and keeps the read deadline alive on pong.
func readPump(conn *websocket.Conn, sub *Subscription, logger *zap.Logger) {
	defer func() {
		sub.Close()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("live stream read error", zap.String("student_id", sub.studentID), zap.Error(err))
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
