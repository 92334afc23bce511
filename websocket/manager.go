// Package websocket keeps the open realtime connections of each user and
// delivers server events to them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"campusconnect/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// Envelope is the frame every event is wrapped in.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type Client struct {
	conn    *websocket.Conn
	userID  string
	send    chan []byte
	manager *Manager
}

// Manager tracks connections per user. A user may hold several connections
// (tabs, devices); events go to all of them.
type Manager struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	tokens     *auth.Tokens
	upgrader   websocket.Upgrader
}

func NewManager(tokens *auth.Tokens) *Manager {
	return &Manager{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		tokens:     tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Start processes registrations until ctx is done, then closes every client.
func (m *Manager) Start(ctx context.Context) {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			conns, ok := m.clients[client.userID]
			if !ok {
				conns = make(map[*Client]bool)
				m.clients[client.userID] = conns
			}
			conns[client] = true
			m.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"userId":      client.userID,
				"connections": m.ConnectedUsers(),
			}).Debug("[WS] client registered")

		case client := <-m.unregister:
			m.remove(client)
			logrus.WithField("userId", client.userID).Debug("[WS] client unregistered")

		case <-ctx.Done():
			close(m.done)
			m.mu.Lock()
			for _, conns := range m.clients {
				for client := range conns {
					close(client.send)
				}
			}
			m.clients = make(map[string]map[*Client]bool)
			m.mu.Unlock()
			return
		}
	}
}

func (m *Manager) remove(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns, ok := m.clients[client.userID]
	if !ok || !conns[client] {
		return
	}
	delete(conns, client)
	close(client.send)
	if len(conns) == 0 {
		delete(m.clients, client.userID)
	}
}

// SendToUser queues event for every connection of userID and reports whether
// at least one connection accepted it. Slow connections drop the frame.
func (m *Manager) SendToUser(userID string, event string, payload interface{}) bool {
	msg, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		logrus.WithError(err).WithField("event", event).Warn("[WS] failed to marshal event")
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	delivered := false
	for client := range m.clients[userID] {
		select {
		case client.send <- msg:
			delivered = true
		default:
			logrus.WithField("userId", userID).Warn("[WS] send buffer full, dropping event")
		}
	}
	return delivered
}

// ConnectedUsers is the number of users with at least one open connection.
func (m *Manager) ConnectedUsers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Handler upgrades an authenticated request. Browsers cannot set headers on
// websocket requests, so the token comes from the "token" query parameter.
func (m *Manager) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "Token required",
			})
			return
		}
		userID, err := m.tokens.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "Token validation failed",
			})
			return
		}

		conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Warn("[WS] upgrade failed")
			return
		}

		client := &Client{
			conn:    conn,
			userID:  userID.Hex(),
			send:    make(chan []byte, sendBuffer),
			manager: m,
		}
		// queued ahead of registration so it is always the first frame
		if welcome, err := json.Marshal(Envelope{Type: "connected", Payload: gin.H{
			"userId": client.userID,
			"time":   time.Now().Unix(),
		}}); err == nil {
			client.send <- welcome
		}
		select {
		case m.register <- client:
		case <-m.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.done:
		}
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
				logrus.WithError(err).WithField("userId", c.userID).Debug("[WS] read error")
			}
			return
		}

		var in Envelope
		if err := json.Unmarshal(message, &in); err != nil {
			continue
		}
		if in.Type == "ping" {
			c.reply("pong", gin.H{"time": time.Now().Unix()})
		}
	}
}

func (c *Client) reply(event string, payload interface{}) {
	msg, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		return
	}
	c.manager.mu.RLock()
	defer c.manager.mu.RUnlock()
	if !c.manager.clients[c.userID][c] {
		return
	}
	select {
	case c.send <- msg:
	default:
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
