package chat_client_sdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cydxin/chat-client-sdk/cons"
	"github.com/cydxin/chat-client-sdk/message"
	"github.com/cydxin/chat-client-sdk/mockserver"
)

// testBackend mockserver + httptest 的组合，测试共用。
type testBackend struct {
	srv *mockserver.Server
	ts  *httptest.Server
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	srv := mockserver.NewServer()
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testBackend{srv: srv, ts: ts}
}

func (b *testBackend) wsEndpoint() string {
	return "ws" + strings.TrimPrefix(b.ts.URL, "http") + "/ws"
}

func (b *testBackend) newUser(name string) (uint64, string) {
	uid := b.srv.AddUser(name, "pw123456")
	return uid, b.srv.TokenFor(uid)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// quickPolicy 测试用的快速重连策略。
func quickPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", what)
}

func dialChat(t *testing.T, b *testBackend, token string) *Conn {
	t.Helper()
	c := newConn(cons.NamespaceChat, b.wsEndpoint(), token, quickPolicy(), testLogger())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func joinRoom(t *testing.T, c *Conn, roomID uint64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.EmitAck(ctx, cons.EventJoinRoom, message.JoinRoomReq{RoomID: roomID}); err != nil {
		t.Fatalf("joinRoom: %v", err)
	}
}

func TestConnectAndEmitAck(t *testing.T) {
	b := newTestBackend(t)
	_, token := b.newUser("alice")

	c := dialChat(t, b, token)
	if got := c.State(); got != StateConnected {
		t.Fatalf("建连后状态 = %v, 期望 connected", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := c.EmitAck(ctx, cons.EventJoinRoom, message.JoinRoomReq{RoomID: 7})
	if err != nil {
		t.Fatalf("EmitAck: %v", err)
	}
	var ack struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(data, &ack); err != nil || !ack.Success {
		t.Fatalf("ack = %s, err = %v", data, err)
	}
}

func TestConnectBadToken(t *testing.T) {
	b := newTestBackend(t)
	c := newConn(cons.NamespaceChat, b.wsEndpoint(), "no-such-token", quickPolicy(), testLogger())
	defer c.Close()

	if err := c.Connect(); err == nil {
		t.Fatal("无效 token 建连应该失败")
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("首连失败后状态 = %v, 期望 idle", got)
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	b := newTestBackend(t)
	c := newConn(cons.NamespaceChat, b.wsEndpoint(), "whatever", quickPolicy(), testLogger())
	defer c.Close()

	// 未连接时 Emit 降级为 no-op，不能 panic
	c.Emit(cons.EventTyping, message.TypingReq{RoomID: 1, IsTyping: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.EmitAck(ctx, cons.EventJoinRoom, message.JoinRoomReq{RoomID: 1}); err == nil {
		t.Fatal("未连接的 EmitAck 应该返回错误")
	}
}

func TestEmitAckServerError(t *testing.T) {
	b := newTestBackend(t)
	_, token := b.newUser("alice")
	c := dialChat(t, b, token)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.EmitAck(ctx, cons.EventJoinRoom, message.JoinRoomReq{RoomID: 0})
	if err == nil {
		t.Fatal("room_id=0 应该被拒绝")
	}
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("错误类型 = %T, 期望 *ServerError", err)
	}
}

func TestPushDelivery(t *testing.T) {
	b := newTestBackend(t)
	_, tokenA := b.newUser("alice")
	_, tokenB := b.newUser("bob")

	recv := dialChat(t, b, tokenA)
	send := dialChat(t, b, tokenB)
	joinRoom(t, recv, 9)
	joinRoom(t, send, 9)

	got := make(chan message.Message, 1)
	recv.On(cons.EventNewMessage, func(data json.RawMessage) {
		var m message.Message
		if json.Unmarshal(data, &m) == nil {
			got <- m
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := send.EmitAck(ctx, cons.EventSendMessage, message.SendReq{
		RoomID: 9, Type: message.TypeText, Content: "hello",
	}); err != nil {
		t.Fatalf("sendMessage: %v", err)
	}

	select {
	case m := <-got:
		if m.Content != "hello" || m.RoomID != 9 {
			t.Fatalf("推送内容不对: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("没收到 newMessage 推送")
	}
}

func TestOffStopsDelivery(t *testing.T) {
	b := newTestBackend(t)
	_, tokenA := b.newUser("alice")
	_, tokenB := b.newUser("bob")

	recv := dialChat(t, b, tokenA)
	send := dialChat(t, b, tokenB)
	joinRoom(t, recv, 3)
	joinRoom(t, send, 3)

	var offCount atomic.Int32
	sub := recv.On(cons.EventNewMessage, func(json.RawMessage) { offCount.Add(1) })
	recv.Off(sub)

	// 第二个订阅当同步屏障：它收到就说明推送到齐了
	barrier := make(chan struct{}, 1)
	recv.On(cons.EventNewMessage, func(json.RawMessage) {
		select {
		case barrier <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := send.EmitAck(ctx, cons.EventSendMessage, message.SendReq{RoomID: 3, Content: "x"}); err != nil {
		t.Fatalf("sendMessage: %v", err)
	}

	select {
	case <-barrier:
	case <-time.After(2 * time.Second):
		t.Fatal("屏障订阅没收到推送")
	}
	if n := offCount.Load(); n != 0 {
		t.Fatalf("Off 之后仍然收到 %d 次回调", n)
	}
}

func TestServerKickImmediateReconnect(t *testing.T) {
	b := newTestBackend(t)
	uid, token := b.newUser("alice")
	c := dialChat(t, b, token)

	var reconnects atomic.Int32
	c.On(cons.EventConnect, func(json.RawMessage) { reconnects.Add(1) })

	b.srv.Kick(uid)

	waitFor(t, 3*time.Second, "踢下线后自动重连", func() bool {
		return c.Connected() && reconnects.Load() >= 1
	})
}

func TestDropThenReconnect(t *testing.T) {
	b := newTestBackend(t)
	uid, token := b.newUser("alice")
	c := dialChat(t, b, token)

	var disconnects atomic.Int32
	c.On(cons.EventDisconnect, func(json.RawMessage) { disconnects.Add(1) })

	b.srv.Drop(uid)

	waitFor(t, 3*time.Second, "断网后退避重连", func() bool {
		return disconnects.Load() >= 1 && c.Connected()
	})
}

func TestReconnectExhaustedEntersFailed(t *testing.T) {
	b := newTestBackend(t)
	uid, token := b.newUser("alice")

	c := newConn(cons.NamespaceChat, b.wsEndpoint(), token,
		ReconnectPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
		testLogger())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	// 整个后端下线，重连必然失败
	b.ts.Close()
	b.srv.Drop(uid)

	waitFor(t, 3*time.Second, "重连耗尽进入 failed", func() bool {
		return c.State() == StateFailed
	})
}

func TestCloseIsFinal(t *testing.T) {
	b := newTestBackend(t)
	_, token := b.newUser("alice")
	c := dialChat(t, b, token)

	c.Close()
	c.Close() // 重复 Close 幂等

	if got := c.State(); got != StateIdle {
		t.Fatalf("Close 后状态 = %v, 期望 idle", got)
	}
	if err := c.Connect(); err == nil {
		t.Fatal("Close 之后不允许再 Connect")
	}
}
