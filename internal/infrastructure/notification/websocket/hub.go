package websocket

import (
	"context"
	"sync"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// Типы сообщений
const (
	MessageProfile  = "profile"
	MessageAnalysis = "analysis"
)

// Hub управляет WebSocket клиентами и рассылает обновления устройств.
// Реализует интерфейс port.NotificationService
type Hub struct {
	clients map[*Client]bool

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *logger.Logger
}

// envelope - сообщение с адресатом-устройством для фильтрации подписок
type envelope struct {
	deviceID string
	message  Message
}

// NewHub создает новый WebSocket hub
func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run запускает hub до отмены контекста (в отдельной goroutine)
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client registered", "total_clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", "total_clients", total)

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.Wants(env.deviceID) {
			continue
		}
		select {
		case client.send <- env.message:
		default:
			// Канал клиента заполнен, отключаем
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("Client channel full, disconnected")
		}
	}
}

// Register регистрирует нового клиента
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister удаляет клиента
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastProfile отправляет обновленный профиль (реализация port.NotificationService)
func (h *Hub) BroadcastProfile(update *dto.ProfileUpdateDTO) {
	h.enqueue(update.DeviceID, Message{Type: MessageProfile, DeviceID: update.DeviceID, Data: update})
}

// BroadcastAnalysis отправляет завершенный анализ (реализация port.NotificationService)
func (h *Hub) BroadcastAnalysis(analysis *dto.AnalysisDTO) {
	h.enqueue(analysis.DeviceID, Message{Type: MessageAnalysis, DeviceID: analysis.DeviceID, Data: analysis})
}

func (h *Hub) enqueue(deviceID string, message Message) {
	select {
	case h.broadcast <- envelope{deviceID: deviceID, message: message}:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", "type", message.Type, "device_id", deviceID)
	}
}

// ClientCount возвращает количество подключенных клиентов (реализация port.NotificationService)
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Message представляет сообщение для отправки клиенту
type Message struct {
	Type     string      `json:"type"` // "profile" или "analysis"
	DeviceID string      `json:"device_id"`
	Data     interface{} `json:"data"`
}
