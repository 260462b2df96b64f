package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub рассылает события подключенным websocket-клиентам: участникам заявки
// и тем, кто явно подписался на ее id. Медленные клиенты отключаются.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		byUser:  make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*Client]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}

	h.logger.Debug("websocket client registered", zap.String("user_id", c.userID))
}

// Unregister можно вызывать повторно
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if set := h.byUser[c.userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	c.closeSend()

	h.logger.Debug("websocket client unregistered", zap.String("user_id", c.userID))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleEvent доставляет событие адресатам
func (h *Hub) HandleEvent(_ context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("HandleEvent: failed to marshal event", zap.Error(err))
		return
	}

	var slow []*Client

	h.mu.RLock()
	recipients := make(map[*Client]struct{})
	for _, user := range e.Users() {
		for c := range h.byUser[user] {
			recipients[c] = struct{}{}
		}
	}
	for c := range h.clients {
		if c.IsSubscribed(e.RequestID) {
			recipients[c] = struct{}{}
		}
	}
	for c := range recipients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("HandleEvent: dropping slow websocket client", zap.String("user_id", c.userID))
		h.Unregister(c)
	}
}

// Close отключает всех клиентов при остановке сервиса
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Unregister(c)
	}
}
