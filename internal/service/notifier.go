package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Notifier pushes live state changes to observers. Publishing is
// fire-and-forget: failures are logged, never propagated.
type Notifier interface {
	Publish(topic string, payload interface{})
}

// Notification topics.
const (
	TopicMessageStatus   = "message.status"
	TopicMessageReceived = "message.received"
	TopicTemplateStatus  = "template.status"
)

// NoopNotifier discards every publish. Used when no observers are wired.
type NoopNotifier struct{}

func (NoopNotifier) Publish(string, interface{}) {}

type notifierEvent struct {
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebsocketHub fans published events out to connected websocket observers.
type WebsocketHub struct {
	logger *logrus.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewWebsocketHub(logger *logrus.Logger) *WebsocketHub {
	return &WebsocketHub{
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// HandleSubscribe upgrades the request and keeps the connection registered
// until the peer goes away.
func (h *WebsocketHub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to accept websocket subscriber")
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Websocket subscriber connected")

	// Reads are only used to detect the peer closing.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	h.remove(conn, websocket.StatusNormalClosure)
}

// Publish sends the event to every subscriber. Slow or dead connections are
// dropped; errors never reach the caller.
func (h *WebsocketHub) Publish(topic string, payload interface{}) {
	data, err := json.Marshal(notifierEvent{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.WithError(err).WithField("topic", topic).Warn("Failed to encode notification")
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.WithError(err).WithField("topic", topic).Debug("Dropping websocket subscriber")
			h.remove(conn, websocket.StatusGoingAway)
		}
	}
}

// Close disconnects all subscribers.
func (h *WebsocketHub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *WebsocketHub) remove(conn *websocket.Conn, code websocket.StatusCode) {
	h.mu.Lock()
	_, present := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()

	if present {
		_ = conn.Close(code, "")
	}
}
