package mockserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cydxin/chat-client-sdk/cons"
	"github.com/cydxin/chat-client-sdk/message"
)

const (
	nsChat          = cons.NamespaceChat
	nsNotifications = cons.NamespaceNotifications

	eventNewMessage        = cons.EventNewMessage
	eventNotifyNew         = cons.EventNotifyNew
	eventNotifyUnreadCount = cons.EventNotifyUnreadCount
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// client 一条已鉴权的 ws 连接。
type client struct {
	srv       *Server
	ws        *websocket.Conn
	userID    uint64
	namespace string

	wmu sync.Mutex // 串行化写

	rmu   sync.Mutex
	rooms map[uint64]struct{}
}

func (s *Server) handleWS(c *gin.Context) {
	ns := c.Param("namespace")
	if ns != nsChat && ns != nsNotifications {
		c.Status(http.StatusNotFound)
		return
	}
	s.mu.Lock()
	rejected := s.rejectNS == ns
	s.mu.Unlock()
	if rejected {
		c.Status(http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	cl := &client{
		srv:       s,
		ws:        ws,
		userID:    c.GetUint64(ctxUserIDKey),
		namespace: ns,
		rooms:     make(map[uint64]struct{}),
	}
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, cl)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var env message.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		if ns == nsChat {
			cl.dispatchChat(env)
		} else {
			cl.dispatchNotify(env)
		}
	}
}

func (c *client) dispatchChat(env message.Envelope) {
	switch env.Event {
	case cons.EventJoinRoom:
		var req message.JoinRoomReq
		if err := json.Unmarshal(env.Data, &req); err != nil || req.RoomID == 0 {
			c.ackErr(env.PacketID, "room_id 必填")
			return
		}
		c.rmu.Lock()
		c.rooms[req.RoomID] = struct{}{}
		c.rmu.Unlock()
		c.srv.record(c.userID, env.Event, req.RoomID)
		c.ack(env.PacketID, gin.H{"success": true})

	case cons.EventLeaveRoom:
		var req message.JoinRoomReq
		_ = json.Unmarshal(env.Data, &req)
		c.rmu.Lock()
		delete(c.rooms, req.RoomID)
		c.rmu.Unlock()
		c.srv.record(c.userID, env.Event, req.RoomID)
		c.ack(env.PacketID, gin.H{"success": true})

	case cons.EventSendMessage:
		var req message.SendReq
		if err := json.Unmarshal(env.Data, &req); err != nil || req.RoomID == 0 {
			c.ackErr(env.PacketID, "载荷非法")
			return
		}
		s := c.srv
		s.mu.Lock()
		s.nextMsgID++
		msg := message.Message{
			ID:        s.nextMsgID,
			RoomID:    req.RoomID,
			SenderID:  c.userID,
			Content:   req.Content,
			Type:      req.Type,
			FileURL:   req.FileURL,
			CreatedAt: time.Now(),
		}
		s.messages[req.RoomID] = append(s.messages[req.RoomID], msg)
		targets := s.roomClientsLocked(req.RoomID, c.userID)
		s.mu.Unlock()
		for _, other := range targets {
			other.push(eventNewMessage, msg)
		}
		c.ack(env.PacketID, message.SendAck{Success: true, Message: &msg})

	case cons.EventTyping:
		var req message.TypingReq
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return
		}
		s := c.srv
		s.mu.Lock()
		targets := s.roomClientsLocked(req.RoomID, c.userID)
		s.mu.Unlock()
		for _, other := range targets {
			other.push(cons.EventUserTyping, message.TypingPush{
				RoomID:   req.RoomID,
				UserID:   c.userID,
				IsTyping: req.IsTyping,
			})
		}

	case cons.EventMarkAsRead:
		var req message.MarkAsReadReq
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.ackErr(env.PacketID, "载荷非法")
			return
		}
		s := c.srv
		s.mu.Lock()
		var receipt *message.ReadReceipt
		for roomID, list := range s.messages {
			for i := range list {
				if list[i].ID != req.MessageID {
					continue
				}
				if !list[i].ReadByContains(c.userID) {
					list[i].ReadBy = append(list[i].ReadBy, c.userID)
				}
				receipt = &message.ReadReceipt{RoomID: roomID, MessageID: req.MessageID, UserID: c.userID}
			}
		}
		var targets []*client
		if receipt != nil {
			targets = s.roomClientsLocked(receipt.RoomID, c.userID)
		}
		s.mu.Unlock()
		if receipt == nil {
			c.ackErr(env.PacketID, "消息不存在")
			return
		}
		for _, other := range targets {
			other.push(cons.EventMessageRead, receipt)
		}
		c.ack(env.PacketID, gin.H{"success": true})

	case cons.EventMarkRoomAsRead:
		var req message.MarkRoomAsReadReq
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.ackErr(env.PacketID, "载荷非法")
			return
		}
		s := c.srv
		s.mu.Lock()
		list := s.messages[req.RoomID]
		var receipts []message.ReadReceipt
		for i := range list {
			if list[i].ReadByContains(c.userID) {
				continue
			}
			list[i].ReadBy = append(list[i].ReadBy, c.userID)
			receipts = append(receipts, message.ReadReceipt{
				RoomID:    req.RoomID,
				MessageID: list[i].ID,
				UserID:    c.userID,
			})
		}
		targets := s.roomClientsLocked(req.RoomID, c.userID)
		s.mu.Unlock()
		for _, other := range targets {
			for _, r := range receipts {
				other.push(cons.EventMessageRead, r)
			}
		}
		c.ack(env.PacketID, gin.H{"success": true})

	case cons.EventEditMessage:
		var req message.EditReq
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.ackErr(env.PacketID, "载荷非法")
			return
		}
		s := c.srv
		s.mu.Lock()
		var updated *message.Message
		for _, list := range s.messages {
			for i := range list {
				if list[i].ID == req.MessageID && list[i].SenderID == c.userID {
					list[i].Content = req.Content
					list[i].IsEdited = true
					m := list[i].Clone()
					updated = &m
				}
			}
		}
		var targets []*client
		if updated != nil {
			targets = s.roomClientsLocked(updated.RoomID, c.userID)
		}
		s.mu.Unlock()
		if updated == nil {
			c.ackErr(env.PacketID, "消息不存在或无权编辑")
			return
		}
		for _, other := range targets {
			other.push(cons.EventMessageEdited, updated)
		}
		c.ack(env.PacketID, updated)

	case cons.EventDeleteMessage:
		var req message.DeleteReq
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.ackErr(env.PacketID, "载荷非法")
			return
		}
		s := c.srv
		s.mu.Lock()
		var deleted *message.DeletedPush
		for roomID, list := range s.messages {
			for i := range list {
				if list[i].ID == req.MessageID && list[i].SenderID == c.userID {
					list[i].IsDeleted = true
					deleted = &message.DeletedPush{RoomID: roomID, MessageID: req.MessageID}
				}
			}
		}
		var targets []*client
		if deleted != nil {
			targets = s.roomClientsLocked(deleted.RoomID, c.userID)
		}
		s.mu.Unlock()
		if deleted == nil {
			c.ackErr(env.PacketID, "消息不存在或无权删除")
			return
		}
		for _, other := range targets {
			other.push(cons.EventMessageDeleted, deleted)
		}
		c.ack(env.PacketID, gin.H{"success": true})

	default:
		c.ackErr(env.PacketID, "未知事件: "+env.Event)
	}
}

func (c *client) dispatchNotify(env message.Envelope) {
	s := c.srv
	switch env.Event {
	case cons.EventNotifySubscribe:
		var req message.NotifySubscribeReq
		_ = json.Unmarshal(env.Data, &req)
		s.mu.Lock()
		var list []message.Notification
		for _, n := range s.notifications[c.userID] {
			if req.UnreadOnly && n.IsRead {
				continue
			}
			list = append(list, n)
			if req.Limit > 0 && len(list) >= req.Limit {
				break
			}
		}
		unread := s.unreadLocked(c.userID)
		s.mu.Unlock()
		c.ack(env.PacketID, message.NotifyListAck{Notifications: list, UnreadCount: unread})

	case cons.EventNotifyMarkRead:
		var req message.NotifyMarkReadReq
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.ackErr(env.PacketID, "载荷非法")
			return
		}
		now := time.Now()
		s.mu.Lock()
		found := false
		list := s.notifications[c.userID]
		for i := range list {
			if list[i].ID == req.NotificationID {
				if !list[i].IsRead {
					list[i].IsRead = true
					list[i].ReadAt = &now
				}
				found = true
			}
		}
		unread := s.unreadLocked(c.userID)
		targets := s.notifyClientsLocked(c.userID)
		s.mu.Unlock()
		if !found {
			c.ackErr(env.PacketID, "通知不存在")
			return
		}
		c.ack(env.PacketID, gin.H{"success": true})
		for _, other := range targets {
			other.push(eventNotifyUnreadCount, message.UnreadCountPush{Count: unread})
		}

	case cons.EventNotifyMarkAllRead:
		now := time.Now()
		s.mu.Lock()
		list := s.notifications[c.userID]
		for i := range list {
			if !list[i].IsRead {
				list[i].IsRead = true
				list[i].ReadAt = &now
			}
		}
		targets := s.notifyClientsLocked(c.userID)
		s.mu.Unlock()
		c.ack(env.PacketID, gin.H{"success": true})
		for _, other := range targets {
			other.push(eventNotifyUnreadCount, message.UnreadCountPush{Count: 0})
		}

	case cons.EventNotifyDelete:
		var req message.NotifyDeleteReq
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.ackErr(env.PacketID, "载荷非法")
			return
		}
		s.mu.Lock()
		list := s.notifications[c.userID]
		found := false
		for i := range list {
			if list[i].ID == req.NotificationID {
				s.notifications[c.userID] = append(list[:i:i], list[i+1:]...)
				found = true
				break
			}
		}
		unread := s.unreadLocked(c.userID)
		targets := s.notifyClientsLocked(c.userID)
		s.mu.Unlock()
		if !found {
			c.ackErr(env.PacketID, "通知不存在")
			return
		}
		c.ack(env.PacketID, gin.H{"success": true})
		for _, other := range targets {
			if other != c {
				other.push(cons.EventNotifyDeleted, message.NotifyDeletedPush{NotificationID: req.NotificationID})
			}
			other.push(eventNotifyUnreadCount, message.UnreadCountPush{Count: unread})
		}

	default:
		c.ackErr(env.PacketID, "未知事件: "+env.Event)
	}
}

func (c *client) inRoom(roomID uint64) bool {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *client) write(env message.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.ws.WriteMessage(websocket.TextMessage, raw)
}

// ack 带 packet_id 的应答；packetID 为空说明对端不等回包。
func (c *client) ack(packetID string, payload any) {
	if packetID == "" {
		return
	}
	data, _ := json.Marshal(payload)
	c.write(message.Envelope{Event: cons.EventAck, PacketID: packetID, Data: data})
}

func (c *client) ackErr(packetID, msg string) {
	if packetID == "" {
		return
	}
	detail, _ := json.Marshal(msg)
	data, _ := json.Marshal(message.AckError{Event: cons.EventError, Data: detail})
	c.write(message.Envelope{Event: cons.EventAck, PacketID: packetID, Data: data})
}

func (c *client) push(event string, payload any) {
	data, _ := json.Marshal(payload)
	c.write(message.Envelope{Event: event, Data: data})
}

// kick 正常关闭帧断开（客户端视为服务端踢下线，立即重连）。
func (c *client) kick() {
	c.wmu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "kicked"))
	c.wmu.Unlock()
	_ = c.ws.Close()
}

// drop 不发关闭帧，模拟断网。
func (c *client) drop() {
	_ = c.ws.Close()
}
