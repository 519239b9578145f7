package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"leadlag/pkg/utils"
)

// ConnState - состояние WebSocket соединения с биржей
//
// Машина состояний: Disconnected → Connecting → Open → (Degraded) → Disconnected.
// Degraded = сокет формально открыт, но сообщения не приходят дольше
// порога staleness; соединение при этом НЕ разрывается.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateDegraded
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnConfig - конфигурация соединения и переподключения
type ConnConfig struct {
	// InitialBackoff - начальная задержка перед переподключением
	InitialBackoff time.Duration
	// MaxBackoff - потолок exponential backoff
	MaxBackoff time.Duration
	// ConnectTimeout - таймаут установки соединения
	ConnectTimeout time.Duration
	// PingInterval - интервал keepalive ping
	PingInterval time.Duration
	// StaleAfter - порог молчания после которого соединение считается Degraded
	StaleAfter time.Duration
}

// DefaultConnConfig возвращает конфигурацию по умолчанию: 500ms с
// удвоением до потолка 15s, staleness 10s
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     15 * time.Second,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   20 * time.Second,
		StaleAfter:     10 * time.Second,
	}
}

func (c *ConnConfig) applyDefaults() {
	def := DefaultConnConfig()
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
}

// ErrNotConnected возвращается из Send при отсутствии соединения
var ErrNotConnected = errors.New("feed: not connected")

// WSConn управляет одним WebSocket соединением с биржей
//
// Обязанности:
// - Автоматическое переподключение с exponential backoff
// - Keepalive ping
// - Детект staleness: сокет открыт, но данные не идут → Degraded,
//   однократный вызов onDegraded за соединение (диагностика + fallback
//   подписка), без разрыва соединения
// - Callbacks: onOpen (полная переподписка), onMessage, onClose
//
// Callbacks вызываются из внутренних горутин; потребитель (Manager)
// сериализует обработку сам.
type WSConn struct {
	name string
	url  string
	cfg  ConnConfig
	log  *utils.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex

	state         int32 // atomic ConnState
	lastMsgNs     int64 // atomic, UnixNano последнего сообщения
	reconnects    int64 // atomic
	degradedFired int32 // atomic, сброс при каждом новом соединении

	onOpen     func()
	onMessage  func([]byte)
	onClose    func(error)
	onDegraded func()

	closeChan chan struct{}
	closeOnce sync.Once
}

// NewWSConn создаёт менеджер соединения (без подключения)
func NewWSConn(name, url string, cfg ConnConfig, log *utils.Logger) *WSConn {
	cfg.applyDefaults()
	return &WSConn{
		name:      name,
		url:       url,
		cfg:       cfg,
		log:       log,
		closeChan: make(chan struct{}),
	}
}

// SetOnOpen устанавливает callback установленного соединения
// Вызывается после каждого успешного (пере)подключения - здесь
// потребитель заново выставляет все подписки
func (w *WSConn) SetOnOpen(fn func()) { w.onOpen = fn }

// SetOnMessage устанавливает callback входящих сообщений
func (w *WSConn) SetOnMessage(fn func([]byte)) { w.onMessage = fn }

// SetOnClose устанавливает callback разрыва соединения
func (w *WSConn) SetOnClose(fn func(error)) { w.onClose = fn }

// SetOnDegraded устанавливает callback деградации (вызывается максимум
// один раз на соединение)
func (w *WSConn) SetOnDegraded(fn func()) { w.onDegraded = fn }

// State возвращает текущее состояние соединения
func (w *WSConn) State() ConnState {
	return ConnState(atomic.LoadInt32(&w.state))
}

// IsConnected - true в состояниях Open и Degraded
func (w *WSConn) IsConnected() bool {
	s := w.State()
	return s == StateOpen || s == StateDegraded
}

// Reconnects возвращает счётчик переподключений
func (w *WSConn) Reconnects() int64 {
	return atomic.LoadInt64(&w.reconnects)
}

// LastMessageAt возвращает время последнего входящего сообщения
func (w *WSConn) LastMessageAt() time.Time {
	ns := atomic.LoadInt64(&w.lastMsgNs)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Start запускает цикл подключения (не блокирует)
//
// Первая попытка выполняется сразу; неудачи уходят в backoff цикл.
// Ошибка не возвращается: транзиентные сетевые сбои востанавливаются
// локально и не всплывают к вызывающему.
func (w *WSConn) Start() {
	go w.connectLoop(0)
}

// connectLoop - подключение с exponential backoff
// firstDelay > 0 означает ожидание перед первой попыткой (после разрыва)
func (w *WSConn) connectLoop(firstDelay time.Duration) {
	delay := firstDelay

	for {
		if delay > 0 {
			select {
			case <-w.closeChan:
				return
			case <-time.After(delay):
			}
		}

		select {
		case <-w.closeChan:
			return
		default:
		}

		atomic.StoreInt32(&w.state, int32(StateConnecting))

		if err := w.dial(); err != nil {
			w.log.Warn("connect failed",
				zap.String("conn", w.name),
				zap.Error(err),
				zap.Duration("retry_in", w.nextDelay(delay)))

			atomic.StoreInt32(&w.state, int32(StateDisconnected))
			delay = w.nextDelay(delay)
			continue
		}

		// Успешное подключение: сброс backoff и флага деградации
		atomic.StoreInt32(&w.state, int32(StateOpen))
		atomic.StoreInt32(&w.degradedFired, 0)
		atomic.StoreInt64(&w.lastMsgNs, time.Now().UnixNano())

		w.log.Info("websocket connected", zap.String("conn", w.name), zap.String("url", w.url))

		if w.onOpen != nil {
			w.onOpen()
		}

		go w.readPump()
		go w.pingPump()
		go w.staleMonitor()
		return
	}
}

// nextDelay удваивает задержку до потолка
func (w *WSConn) nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return w.cfg.InitialBackoff
	}
	next := current * 2
	if next > w.cfg.MaxBackoff {
		next = w.cfg.MaxBackoff
	}
	return next
}

// dial устанавливает соединение
func (w *WSConn) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: w.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	return nil
}

// readPump читает сообщения до разрыва соединения
func (w *WSConn) readPump() {
	for {
		select {
		case <-w.closeChan:
			return
		default:
		}

		w.connMu.RLock()
		conn := w.conn
		w.connMu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			w.handleDisconnect(err)
			return
		}

		atomic.StoreInt64(&w.lastMsgNs, time.Now().UnixNano())

		// Данные снова идут - выходим из Degraded
		atomic.CompareAndSwapInt32(&w.state, int32(StateDegraded), int32(StateOpen))

		if w.onMessage != nil {
			w.onMessage(message)
		}
	}
}

// pingPump отправляет keepalive ping
func (w *WSConn) pingPump() {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.closeChan:
			return
		case <-ticker.C:
			if !w.IsConnected() {
				return
			}

			w.connMu.RLock()
			conn := w.conn
			w.connMu.RUnlock()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(w.cfg.PingInterval))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.handleDisconnect(err)
				return
			}
		}
	}
}

// staleMonitor детектит молчащее соединение
//
// Сокет открыт, сообщений нет дольше StaleAfter → Degraded + однократный
// onDegraded (fallback-подписка у потребителя). Соединение не рвём:
// разрыв сделал бы хуже если биржа просто временно молчит.
func (w *WSConn) staleMonitor() {
	interval := w.cfg.StaleAfter / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.closeChan:
			return
		case <-ticker.C:
			if !w.IsConnected() {
				return
			}

			last := atomic.LoadInt64(&w.lastMsgNs)
			silent := time.Since(time.Unix(0, last))
			if silent < w.cfg.StaleAfter {
				continue
			}

			if atomic.CompareAndSwapInt32(&w.state, int32(StateOpen), int32(StateDegraded)) {
				w.log.Warn("feed degraded: socket open but silent",
					zap.String("conn", w.name),
					zap.Duration("silent_for", silent))
			}

			if atomic.CompareAndSwapInt32(&w.degradedFired, 0, 1) && w.onDegraded != nil {
				w.onDegraded()
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв и запускает переподключение
func (w *WSConn) handleDisconnect(err error) {
	select {
	case <-w.closeChan:
		return
	default:
	}

	// Только один обработчик разрыва за раз
	prev := atomic.SwapInt32(&w.state, int32(StateDisconnected))
	if prev == int32(StateDisconnected) || prev == int32(StateConnecting) || prev == int32(StateClosed) {
		return
	}

	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()

	atomic.AddInt64(&w.reconnects, 1)

	if err != nil {
		w.log.Warn("websocket disconnected", zap.String("conn", w.name), zap.Error(err))
	}
	if w.onClose != nil {
		w.onClose(err)
	}

	go w.connectLoop(w.cfg.InitialBackoff)
}

// Send сериализует и отправляет сообщение
//
// На закрытом/отсутствующем сокете возвращает ErrNotConnected;
// вызывающий вправе проигнорировать (best-effort семантика подписок).
func (w *WSConn) Send(v interface{}) error {
	if !w.IsConnected() {
		return ErrNotConnected
	}

	w.connMu.RLock()
	conn := w.conn
	w.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	return conn.WriteJSON(v)
}

// Close закрывает соединение и останавливает переподключения
func (w *WSConn) Close() error {
	w.closeOnce.Do(func() {
		close(w.closeChan)
	})

	atomic.StoreInt32(&w.state, int32(StateClosed))

	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		_ = err
	}
	return nil
}
