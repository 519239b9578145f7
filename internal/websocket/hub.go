package websocket

import (
	"bytes"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"leadlag/pkg/utils"
)

var wsJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Топики исходящих сообщений
const (
	TopicPriceUpdate   = "priceUpdate"
	TopicBarUpdate     = "barUpdate"
	TopicLeadLagUpdate = "leadlagUpdate"
	TopicTradeUpdate   = "tradeUpdate"
	TopicNotification  = "notification"
	TopicStatsUpdate   = "statsUpdate"
)

// Envelope - конверт исходящего сообщения
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Пул буферов сериализации: Emit вызывается на каждый тик цены
var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub раздаёт события ядра всем подключенным WebSocket клиентам
//
// Fire-and-forget семантика: медленный или отключившийся клиент
// отбрасывается, отправитель никогда не блокируется
type Hub struct {
	log *utils.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewHub создает новый Hub
func NewHub(log *utils.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
	}
}

// Run запускает главный цикл Hub (в отдельной горутине)
func (h *Hub) Run() {
	for {
		select {
		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("ws client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("ws client disconnected", zap.Int("total", total))

		case message := <-h.broadcast:
			// Список копируется под коротким RLock, отправка идёт без него
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Переполненный буфер = отстающий клиент
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("removed slow ws clients",
					zap.Int("removed", len(toRemove)), zap.Int("total", total))
			}
		}
	}
}

// Stop завершает цикл Hub и закрывает все клиентские каналы
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// Emit сериализует и рассылает событие всем клиентам
//
// Реализует Broadcaster-контракт потребителей (feed, leadlag,
// strategy). Никогда не блокируется: при заполненном broadcast канале
// сообщение отбрасывается.
func (h *Hub) Emit(topic string, payload interface{}) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := wsJSON.NewEncoder(buf).Encode(Envelope{Type: topic, Data: payload}); err != nil {
		h.log.Warn("ws payload marshal failed", zap.String("topic", topic), zap.Error(err))
		bufferPool.Put(buf)
		return
	}

	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	bufferPool.Put(buf)

	select {
	case h.broadcast <- msg:
	default:
		// Канал заполнен - событие теряется, это допустимо
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
