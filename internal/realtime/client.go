package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64

	// maxSubscriptions предел явных подписок одного соединения
	maxSubscriptions = 50
)

// clientMessage команды клиента
type clientMessage struct {
	Action    string `json:"action"`
	RequestID string `json:"requestId"`
}

// Client websocket-соединение одного пользователя
type Client struct {
	userID string
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	logger *zap.Logger

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	closeOnce     sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, logger *zap.Logger) *Client {
	return &Client{
		userID:        userID,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, sendBuffer),
		logger:        logger,
		subscriptions: make(map[string]struct{}),
	}
}

func (c *Client) UserID() string { return c.userID }

func (c *Client) IsSubscribed(requestID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[requestID]
	return ok
}

// subscribe возвращает false, если предел подписок исчерпан
func (c *Client) subscribe(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscriptions[requestID]; ok {
		return true
	}
	if len(c.subscriptions) >= maxSubscriptions {
		return false
	}
	c.subscriptions[requestID] = struct{}{}
	return true
}

func (c *Client) unsubscribe(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, requestID)
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Serve регистрирует клиента и обслуживает соединение до его закрытия
func (c *Client) Serve() {
	c.hub.Register(c)
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("readPump: unexpected close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if _, err := uuid.Parse(msg.RequestID); err != nil {
			continue
		}

		switch msg.Action {
		case "subscribe":
			if !c.subscribe(msg.RequestID) {
				c.logger.Warn("readPump: subscription limit reached",
					zap.String("user_id", c.userID),
					zap.Int("limit", maxSubscriptions))
			}
		case "unsubscribe":
			c.unsubscribe(msg.RequestID)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
