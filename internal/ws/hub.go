package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/revmark-backend/internal/goroutine"
	"github.com/ignatzorin/revmark-backend/internal/logger"
)

// NotificationSaver сохраняет событие как уведомление пользователя.
type NotificationSaver interface {
	Save(ctx context.Context, userID uuid.UUID, event string, data interface{}) error
}

// Hub держит подключения пользователей и рассылает им события.
// Каждое событие дополнительно сохраняется через NotificationSaver,
// поэтому пользователь без открытого сокета увидит его позже.
type Hub struct {
	ctx        context.Context
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	outbox     chan delivery
	saver      NotificationSaver
	saves      *goroutine.Group
}

type delivery struct {
	userID  uuid.UUID
	payload []byte
}

// NewHub создаёт хаб. ctx ограничивает жизнь хаба и фоновых сохранений.
func NewHub(ctx context.Context) *Hub {
	return &Hub{
		ctx:        ctx,
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbox:     make(chan delivery, 64),
		saves:      goroutine.NewGroup(nil),
	}
}

func (h *Hub) SetNotificationSaver(saver NotificationSaver) {
	h.mu.Lock()
	h.saver = saver
	h.mu.Unlock()
}

// Run обслуживает регистрацию и доставку до отмены контекста.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case d := <-h.outbox:
			h.deliver(d)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// BroadcastToUser отправляет {"type": event, "data": data} всем подключениям
// пользователя и сохраняет событие в фоне.
func (h *Hub) BroadcastToUser(userID uuid.UUID, event string, data any) error {
	payload, err := json.Marshal(map[string]any{"type": event, "data": data})
	if err != nil {
		return fmt.Errorf("ws: не удалось сериализовать событие %s: %w", event, err)
	}

	h.persist(userID, event, data)

	select {
	case h.outbox <- delivery{userID: userID, payload: payload}:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// Wait ждёт завершения фоновых сохранений уведомлений.
func (h *Hub) Wait(ctx context.Context) error {
	return h.saves.Wait(ctx)
}

// Online возвращает количество подключений пользователя.
func (h *Hub) Online(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) persist(userID uuid.UUID, event string, data any) {
	h.mu.RLock()
	saver := h.saver
	h.mu.RUnlock()
	if saver == nil {
		return
	}

	h.saves.Go(func() {
		if err := saver.Save(h.ctx, userID, event, data); err != nil {
			logger.L().WithFields(logrus.Fields{
				"user_id": userID,
				"event":   event,
			}).WithError(err).Warn("ws: не удалось сохранить уведомление")
		}
	})
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[client.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.userID] = set
	}
	set[client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[client.userID]
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, set := range h.clients {
		for client := range set {
			close(client.send)
		}
		delete(h.clients, userID)
	}
}

func (h *Hub) deliver(d delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[d.userID] {
		select {
		case client.send <- d.payload:
		default:
			// буфер клиента переполнен: отключаем его
			goroutine.SafeGo(client.Close)
		}
	}
}
