package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ignatzorin/revmark-backend/internal/goroutine"
	"github.com/ignatzorin/revmark-backend/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 4 * 1024
)

// События, которые сервер отправляет клиенту вне рассылок хаба.
const (
	EventConnected = "connected"
	EventPong      = "pong"
)

// inbound - сообщение от клиента. Поддерживается только {"type":"ping"},
// браузер не видит управляющие ping кадры и проверяет связь так.
type inbound struct {
	Type string `json:"type"`
}

// Client - одно WebSocket подключение пользователя.
// send принадлежит хабу и закрывается им, control - только клиенту.
type Client struct {
	conn      *websocket.Conn
	hub       *Hub
	userID    uuid.UUID
	send      chan []byte
	control   chan []byte
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, hub *Hub, userID uuid.UUID) *Client {
	return &Client{
		conn:    conn,
		hub:     hub,
		userID:  userID,
		send:    make(chan []byte, 16),
		control: make(chan []byte, 4),
	}
}

// Run подтверждает подключение и обслуживает соединение до его закрытия или отмены ctx.
func (c *Client) Run(ctx context.Context) {
	c.reply(EventConnected, map[string]any{"user_id": c.userID})
	goroutine.SafeGo(c.writePump)
	c.readPump(ctx)
}

// Close снимает клиента с хаба и закрывает соединение.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	})
}

func (c *Client) reply(event string, data any) {
	raw, err := json.Marshal(map[string]any{"type": event, "data": data})
	if err != nil {
		return
	}
	select {
	case c.control <- raw:
	default:
		// клиент не вычитывает ответы, лишние отбрасываем
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.L().WithField("user_id", c.userID).WithError(err).Debug("ws: соединение закрыто")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inbound
		if json.Unmarshal(raw, &msg) == nil && msg.Type == "ping" {
			c.reply(EventPong, nil)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case payload := <-c.control:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
