package chat_client_sdk

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/cydxin/chat-client-sdk/cons"
	"github.com/cydxin/chat-client-sdk/message"
)

// RoomHandlers 房间作用域的事件回调集合。
// 按值捕获：替换回调集合只会重新挂监听，不会触发 leave/rejoin。
type RoomHandlers struct {
	OnNewMessage func(m message.Message)
	OnTyping     func(p message.TypingPush)
	OnRead       func(r message.ReadReceipt)
	OnEdited     func(m message.Message)
	OnDeleted    func(p message.DeletedPush)
}

// RoomBinder 房间成员关系协调器。
// 约束：
// - 同一时刻最多加入一个房间；切换时先 leave 旧房间再 join 新房间；
// - roomID 不变时不重复 join；
// - 断线后服务端会清理成员关系，重连成功自动补发 join。
type RoomBinder struct {
	conn *Conn
	log  *slog.Logger

	mu       sync.Mutex
	roomID   uint64 // 0 = 未加入任何房间
	joined   bool   // 当前 socket 上是否已发过 join
	handlers RoomHandlers
	subs     []*Subscription

	connectSub    *Subscription
	disconnectSub *Subscription
}

// NewRoomBinder 绑定到一条 chat namespace 连接。
func NewRoomBinder(conn *Conn, log *slog.Logger) *RoomBinder {
	b := &RoomBinder{conn: conn, log: log}
	b.connectSub = conn.On(cons.EventConnect, func(json.RawMessage) { b.onConnect() })
	b.disconnectSub = conn.On(cons.EventDisconnect, func(json.RawMessage) { b.onDisconnect() })
	return b
}

// SetRoom 声明当前关注的房间；0 表示离开。
// 每次变更恰好产生一次 leave（如有旧房间）+ 一次 join（如有新房间）。
func (b *RoomBinder) SetRoom(roomID uint64) {
	b.mu.Lock()
	if roomID == b.roomID {
		b.mu.Unlock()
		return
	}
	prev := b.roomID
	wasJoined := b.joined
	b.roomID = roomID
	b.joined = false
	b.mu.Unlock()

	if wasJoined && prev != 0 {
		b.conn.Emit(cons.EventLeaveRoom, message.JoinRoomReq{RoomID: prev})
	}
	if roomID != 0 && b.conn.Connected() {
		b.conn.Emit(cons.EventJoinRoom, message.JoinRoomReq{RoomID: roomID})
		b.mu.Lock()
		b.joined = true
		b.mu.Unlock()
	}
}

// Room 当前房间（0 = 无）。
func (b *RoomBinder) Room() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.roomID
}

// SetHandlers 替换回调集合。只做监听重挂，不动房间成员关系。
func (b *RoomBinder) SetHandlers(h RoomHandlers) {
	b.mu.Lock()
	old := b.subs
	b.subs = nil
	b.handlers = h
	b.mu.Unlock()

	for _, sub := range old {
		b.conn.Off(sub)
	}

	subs := []*Subscription{
		b.conn.On(cons.EventNewMessage, func(data json.RawMessage) {
			var m message.Message
			if err := json.Unmarshal(data, &m); err != nil {
				return
			}
			if fn, room := b.snapshot(); fn.OnNewMessage != nil && m.RoomID == room {
				fn.OnNewMessage(m)
			}
		}),
		b.conn.On(cons.EventUserTyping, func(data json.RawMessage) {
			var p message.TypingPush
			if err := json.Unmarshal(data, &p); err != nil {
				return
			}
			if fn, room := b.snapshot(); fn.OnTyping != nil && p.RoomID == room {
				fn.OnTyping(p)
			}
		}),
		b.conn.On(cons.EventMessageRead, func(data json.RawMessage) {
			var r message.ReadReceipt
			if err := json.Unmarshal(data, &r); err != nil {
				return
			}
			if fn, room := b.snapshot(); fn.OnRead != nil && r.RoomID == room {
				fn.OnRead(r)
			}
		}),
		b.conn.On(cons.EventMessageEdited, func(data json.RawMessage) {
			var m message.Message
			if err := json.Unmarshal(data, &m); err != nil {
				return
			}
			if fn, room := b.snapshot(); fn.OnEdited != nil && m.RoomID == room {
				fn.OnEdited(m)
			}
		}),
		b.conn.On(cons.EventMessageDeleted, func(data json.RawMessage) {
			var p message.DeletedPush
			if err := json.Unmarshal(data, &p); err != nil {
				return
			}
			if fn, room := b.snapshot(); fn.OnDeleted != nil && p.RoomID == room {
				fn.OnDeleted(p)
			}
		}),
	}

	b.mu.Lock()
	b.subs = subs
	b.mu.Unlock()
}

// Close 离开房间并摘掉全部监听。
func (b *RoomBinder) Close() {
	b.mu.Lock()
	roomID := b.roomID
	joined := b.joined
	subs := b.subs
	b.roomID = 0
	b.joined = false
	b.subs = nil
	b.mu.Unlock()

	if joined && roomID != 0 {
		b.conn.Emit(cons.EventLeaveRoom, message.JoinRoomReq{RoomID: roomID})
	}
	for _, sub := range subs {
		b.conn.Off(sub)
	}
	b.conn.Off(b.connectSub)
	b.conn.Off(b.disconnectSub)
}

func (b *RoomBinder) snapshot() (RoomHandlers, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers, b.roomID
}

// onConnect 建连/重连成功：如果有目标房间且尚未 join，补发一次。
func (b *RoomBinder) onConnect() {
	b.mu.Lock()
	roomID := b.roomID
	joined := b.joined
	b.mu.Unlock()

	if roomID == 0 || joined {
		return
	}
	b.conn.Emit(cons.EventJoinRoom, message.JoinRoomReq{RoomID: roomID})
	b.mu.Lock()
	b.joined = true
	b.mu.Unlock()
	b.log.Debug("room rejoined", "room_id", roomID)
}

// onDisconnect 服务端侧成员关系已随连接失效，本地只需要复位 joined。
func (b *RoomBinder) onDisconnect() {
	b.mu.Lock()
	b.joined = false
	b.mu.Unlock()
}
