package chat_client_sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cydxin/chat-client-sdk/cons"
	"github.com/cydxin/chat-client-sdk/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time 写入超时时间
	writeWait = 10 * time.Second

	// Time pong超时时间
	pongWait = 60 * time.Second

	// Send 对应的ping 必须小于pong
	pingPeriod = (pongWait * 9) / 10

	// Maximum 允许的下行消息大小（分页推送可能带整条消息体）
	maxMessageSize = 1 << 20

	// 发送缓冲区大小
	sendBuffer = 256

	// ack 默认等待上限（ctx 没带 deadline 时生效）
	defaultAckTimeout = 10 * time.Second
)

// Handler 下行事件回调。data 是信封里的原始 JSON 载荷。
type Handler func(data json.RawMessage)

// Subscription On 的返回句柄，Off 用它精确反注册。
// 回调函数没有可比较的身份，所以用句柄而不是按函数注销。
type Subscription struct {
	event string
	id    uint64
}

// Conn 单个 namespace 的连接：一条鉴权过的 WS + 事件注册表 + 重连状态机。
// token 在建连时捕获；自动重连沿用同一个 token，换 token 必须重建 Conn。
type Conn struct {
	namespace string
	endpoint  string // ws(s)://host/ws，不带 namespace
	token     string
	policy    ReconnectPolicy
	log       *slog.Logger
	dialer    *websocket.Dialer

	mu     sync.Mutex
	ws     *websocket.Conn
	send   chan []byte
	stop   chan struct{} // 当前 socket 的 writePump 退出信号
	state  ConnState
	closed bool

	// event -> 订阅 ID -> 回调
	handlers map[string]map[uint64]Handler
	nextSub  uint64

	// packet_id -> ack 等待通道（容量 1；断连时统一 close）
	pending map[string]chan json.RawMessage
}

func newConn(namespace, endpoint, token string, policy ReconnectPolicy, log *slog.Logger) *Conn {
	return &Conn{
		namespace: namespace,
		endpoint:  endpoint,
		token:     token,
		policy:    policy.withDefaults(),
		log:       log.With(slog.String("namespace", namespace)),
		dialer:    websocket.DefaultDialer,
		state:     StateIdle,
		handlers:  make(map[string]map[uint64]Handler),
		pending:   make(map[string]chan json.RawMessage),
	}
}

// State 当前连接状态。
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected 是否处于可发送状态。
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// Connect 首次建连。失败时回到 idle 并返回错误（不会自动重试首连）。
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("connection closed")
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.dialAndStart(); err != nil {
		c.setState(StateIdle)
		c.fanout(cons.EventConnectError, mustJSON(map[string]any{"error": err.Error()}))
		return fmt.Errorf("dial %s: %w", c.namespace, err)
	}
	c.fanout(cons.EventConnect, nil)
	return nil
}

func (c *Conn) dialAndStart() error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	url := c.endpoint + "/" + c.namespace

	ws, resp, err := c.dialer.Dial(url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return err
	}

	send := make(chan []byte, sendBuffer)
	stop := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return errors.New("connection closed")
	}
	c.ws = ws
	c.send = send
	c.stop = stop
	c.state = StateConnected
	c.mu.Unlock()

	go c.readPump(ws)
	go c.writePump(ws, send, stop)
	return nil
}

// Emit 非 ack 发送。未连接时降级为 no-op + warning，绝不排队、绝不 panic。
func (c *Conn) Emit(event string, payload any) {
	c.mu.Lock()
	if c.state != StateConnected || c.send == nil {
		state := c.state
		c.mu.Unlock()
		c.log.Warn("emit skipped: not connected", "event", event, "state", state.String())
		return
	}
	send := c.send
	c.mu.Unlock()

	b, err := marshalEnvelope(event, "", payload)
	if err != nil {
		c.log.Warn("emit skipped: marshal failed", "event", event, "error", err)
		return
	}
	select {
	case send <- b:
	default:
		// 丢弃避免阻塞
		c.log.Warn("emit dropped: send buffer full", "event", event)
	}
}

// EmitAck 发送并等待服务端 ack。
// ack data 是 {"event":"error","data":...} 时按错误处理；其余情况原样返回。
func (c *Conn) EmitAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.send == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("emit %s: not connected", event)
	}
	send := c.send

	pid := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	c.pending[pid] = ch
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		delete(c.pending, pid)
		c.mu.Unlock()
	}

	b, err := marshalEnvelope(event, pid, payload)
	if err != nil {
		drop()
		return nil, err
	}
	select {
	case send <- b:
	default:
		drop()
		return nil, fmt.Errorf("emit %s: send buffer full", event)
	}

	timer := time.NewTimer(defaultAckTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	case <-timer.C:
		drop()
		return nil, fmt.Errorf("emit %s: ack timeout", event)
	case data, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("emit %s: connection lost", event)
		}
		var probe message.AckError
		if err := json.Unmarshal(data, &probe); err == nil && probe.Event == cons.EventError {
			return nil, &ServerError{Event: event, Data: probe.Data}
		}
		return data, nil
	}
}

// ServerError 服务端 ack 返回的业务错误。
type ServerError struct {
	Event string
	Data  json.RawMessage
}

func (e *ServerError) Error() string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Data, &body); err == nil && body.Message != "" {
		return fmt.Sprintf("%s rejected: %s", e.Event, body.Message)
	}
	return fmt.Sprintf("%s rejected: %s", e.Event, string(e.Data))
}

// On 注册事件回调，返回句柄用于 Off。注册本身不产生任何网络行为。
func (c *Conn) On(event string, fn Handler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.nextSub++
	id := c.nextSub
	c.handlers[event][id] = fn
	return &Subscription{event: event, id: id}
}

// Off 反注册。nil 或重复 Off 都是 no-op。
func (c *Conn) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.handlers[sub.event]; m != nil {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(c.handlers, sub.event)
		}
	}
}

// Close 客户端主动下线：先清空全部监听（避免关闭过程触发旧回调），再关 socket。
// 关闭后不会自动重连。
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateIdle
	c.handlers = make(map[string]map[uint64]Handler)
	for pid, ch := range c.pending {
		close(ch)
		delete(c.pending, pid)
	}
	ws := c.ws
	stop := c.stop
	c.ws = nil
	c.send = nil
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = ws.Close()
	}
}

// readPump 读循环：ack 配对、事件分发，退出时走断连处理。
func (c *Conn) readPump(ws *websocket.Conn) {
	defer func() {
		_ = ws.Close()
	}()
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { _ = ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(ws, err)
			return
		}
		c.dispatch(raw)
	}
}

// writePump 写循环：send 通道 + 周期 ping。
func (c *Conn) writePump(ws *websocket.Conn, send chan []byte, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case <-stop:
			return
		case msg := <-send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			// 管道里剩余的消息一次性写完，减少系统调用
			n := len(send)
			for i := 0; i < n; i++ {
				if err := ws.WriteMessage(websocket.TextMessage, <-send); err != nil {
					return
				}
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) dispatch(raw []byte) {
	var env message.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("invalid envelope", "error", err)
		return
	}

	if env.Event == cons.EventAck && env.PacketID != "" {
		c.mu.Lock()
		ch := c.pending[env.PacketID]
		delete(c.pending, env.PacketID)
		c.mu.Unlock()
		if ch != nil {
			ch <- env.Data
		}
		return
	}

	c.fanout(env.Event, env.Data)
}

// fanout 同步调用当前注册的回调。回调在锁外执行。
func (c *Conn) fanout(event string, data json.RawMessage) {
	c.mu.Lock()
	fns := make([]Handler, 0, len(c.handlers[event]))
	for _, fn := range c.handlers[event] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

// handleDisconnect 读循环退出后的统一处理：
// - 客户端主动 Close 的不管；
// - 服务端显式断开（正常关闭帧）立即重连一次，而不是被动等退避；
// - 其余按策略退避重连，超限进入 failed。
func (c *Conn) handleDisconnect(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.ws != ws {
		// 主动关闭或已被新 socket 替换的旧连接
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.send = nil
	stop := c.stop
	c.stop = nil
	c.state = StateReconnecting
	for pid, ch := range c.pending {
		close(ch)
		delete(c.pending, pid)
	}
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	c.log.Warn("connection lost", "reason", reason)
	c.fanout(cons.EventDisconnect, mustJSON(map[string]any{"reason": reason}))

	serverKick := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	go c.reconnectLoop(serverKick)
}

// reconnectLoop 自动重连：immediate 时第一次不等待（服务端踢下线场景）。
func (c *Conn) reconnectLoop(immediate bool) {
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		delay := c.policy.Delay(attempt)
		if immediate && attempt == 1 {
			delay = 0
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.log.Info("reconnecting", "attempt", attempt, "max", c.policy.MaxAttempts)
		if err := c.dialAndStart(); err == nil {
			c.log.Info("reconnected", "attempt", attempt)
			c.fanout(cons.EventConnect, nil)
			return
		} else {
			c.fanout(cons.EventConnectError, mustJSON(map[string]any{"error": err.Error()}))
		}
	}

	c.setState(StateFailed)
	c.log.Error("reconnect abandoned: max attempts exceeded", "max", c.policy.MaxAttempts)
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	if !c.closed {
		c.state = s
	}
	c.mu.Unlock()
}

func marshalEnvelope(event, packetID string, payload any) ([]byte, error) {
	env := message.Envelope{Event: event, PacketID: packetID}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = b
	}
	return json.Marshal(env)
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
