package message

import "encoding/json"

// Envelope WS 双向信封。
// 上行：event + packet_id（需要 ack 时） + data。
// 下行：event=ack 表示应答，其余是服务端推送。
type Envelope struct {
	Event    string          `json:"event"`
	PacketID string          `json:"packet_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// AckError ack data 内的错误形态：{"event":"error","data":...}。
// 正常 ack 的 data 直接就是业务载荷。
type AckError struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinRoomReq joinRoom / leaveRoom 载荷
type JoinRoomReq struct {
	RoomID uint64 `json:"room_id"`
}

// SendReq sendMessage 载荷
type SendReq struct {
	RoomID  uint64 `json:"room_id"`
	Type    string `json:"type"`
	Content string `json:"content"`
	FileURL string `json:"file_url,omitempty"`
	// ClientMsgID 客户端生成的幂等 ID，服务端原样回传，
	// 用于把本地回显和确认消息对上。
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// TypingReq typing 载荷（不需要 ack）
type TypingReq struct {
	RoomID   uint64 `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// MarkAsReadReq markAsRead 载荷
type MarkAsReadReq struct {
	MessageID uint64 `json:"message_id"`
}

// MarkRoomAsReadReq markRoomAsRead 载荷
type MarkRoomAsReadReq struct {
	RoomID uint64 `json:"room_id"`
}

// EditReq editMessage 载荷
type EditReq struct {
	MessageID uint64 `json:"message_id"`
	Content   string `json:"content"`
}

// DeleteReq deleteMessage 载荷
type DeleteReq struct {
	MessageID uint64 `json:"message_id"`
}

// SendAck sendMessage 的 ack 载荷
type SendAck struct {
	Success bool     `json:"success"`
	Message *Message `json:"message,omitempty"`
}

// ReadReceipt messageRead 推送载荷
type ReadReceipt struct {
	RoomID    uint64 `json:"room_id"`
	MessageID uint64 `json:"message_id"`
	UserID    uint64 `json:"user_id"`
}

// TypingPush userTyping 推送载荷
type TypingPush struct {
	RoomID   uint64 `json:"room_id"`
	UserID   uint64 `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// DeletedPush messageDeleted 推送载荷
type DeletedPush struct {
	RoomID    uint64 `json:"room_id"`
	MessageID uint64 `json:"message_id"`
}

// NotifySubscribeReq notifications:subscribe 载荷
type NotifySubscribeReq struct {
	Limit      int  `json:"limit,omitempty"`
	UnreadOnly bool `json:"unread_only,omitempty"`
}

// NotifyMarkReadReq notification:mark-read 载荷
type NotifyMarkReadReq struct {
	NotificationID uint64 `json:"notification_id"`
}

// NotifyDeleteReq notification:delete 载荷
type NotifyDeleteReq struct {
	NotificationID uint64 `json:"notification_id"`
}

// UnreadCountPush notification:unread-count 推送载荷
type UnreadCountPush struct {
	Count int `json:"count"`
}

// NotifyDeletedPush notification:deleted 推送载荷
type NotifyDeletedPush struct {
	NotificationID uint64 `json:"notification_id"`
}

// NotifyListAck notifications:subscribe 的 ack / HTTP 拉取载荷。
// 兼容两种服务端返回：裸数组 或 {notifications, unread_count}。
type NotifyListAck struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}
