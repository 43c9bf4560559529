package chat_client_sdk

import (
	"context"
	"encoding/json"

	"github.com/cydxin/chat-client-sdk/cons"
	"github.com/cydxin/chat-client-sdk/message"
)

// bindChatHandlers 把 chat 连接的下行推送接到消息 service。
func (e *ClientEngine) bindChatHandlers(c *Conn) {
	c.On(cons.EventNewMessage, func(data json.RawMessage) {
		var m message.Message
		if err := json.Unmarshal(data, &m); err != nil {
			e.log.Warn("newMessage 解析失败", "err", err)
			return
		}
		e.MsgService.HandleNewMessage(m)
	})
	c.On(cons.EventMessageEdited, func(data json.RawMessage) {
		var m message.Message
		if err := json.Unmarshal(data, &m); err != nil {
			e.log.Warn("messageEdited 解析失败", "err", err)
			return
		}
		e.MsgService.HandleEdited(m)
	})
	c.On(cons.EventMessageDeleted, func(data json.RawMessage) {
		var p message.DeletedPush
		if err := json.Unmarshal(data, &p); err != nil {
			e.log.Warn("messageDeleted 解析失败", "err", err)
			return
		}
		e.MsgService.HandleDeleted(p)
	})
	c.On(cons.EventMessageRead, func(data json.RawMessage) {
		var r message.ReadReceipt
		if err := json.Unmarshal(data, &r); err != nil {
			e.log.Warn("messageRead 解析失败", "err", err)
			return
		}
		e.MsgService.HandleRead(r)
	})
}

// bindNotifyHandlers 通知连接建立后自动订阅，并接收推送。
func (e *ClientEngine) bindNotifyHandlers(c *Conn) {
	c.On(cons.EventConnect, func(json.RawMessage) {
		go func() {
			if err := e.NotifyService.Subscribe(context.Background(), 50, false); err != nil {
				e.log.Warn("通知订阅失败", "err", err)
			}
		}()
	})
	c.On(cons.EventNotifyNew, func(data json.RawMessage) {
		var n message.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			e.log.Warn("notification:new 解析失败", "err", err)
			return
		}
		e.NotifyService.HandleNew(n)
	})
	c.On(cons.EventNotifyUnreadCount, func(data json.RawMessage) {
		var p message.UnreadCountPush
		if err := json.Unmarshal(data, &p); err != nil {
			e.log.Warn("notification:unread-count 解析失败", "err", err)
			return
		}
		e.NotifyService.HandleUnreadCount(p)
	})
	c.On(cons.EventNotifyUpdated, func(data json.RawMessage) {
		var n message.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			e.log.Warn("notification:updated 解析失败", "err", err)
			return
		}
		e.NotifyService.HandleUpdated(n)
	})
	c.On(cons.EventNotifyDeleted, func(data json.RawMessage) {
		var p message.NotifyDeletedPush
		if err := json.Unmarshal(data, &p); err != nil {
			e.log.Warn("notification:deleted 解析失败", "err", err)
			return
		}
		e.NotifyService.HandleDeleted(p)
	})
}
