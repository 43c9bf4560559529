package cons

// Namespace 逻辑通道：同一个后端，鉴权相互独立
const (
	NamespaceChat          = "chat"
	NamespaceNotifications = "notifications"
)

// 上行事件（chat namespace，client -> server）
const (
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventSendMessage    = "sendMessage"
	EventTyping         = "typing"
	EventMarkAsRead     = "markAsRead"
	EventMarkRoomAsRead = "markRoomAsRead"
	EventEditMessage    = "editMessage"
	EventDeleteMessage  = "deleteMessage"
)

// 下行推送（chat namespace，server -> client）
const (
	EventNewMessage     = "newMessage"     // 新消息
	EventUserTyping     = "userTyping"     // 正在输入
	EventMessageRead    = "messageRead"    // 已读回执
	EventMessageEdited  = "messageEdited"  // 消息被编辑
	EventMessageDeleted = "messageDeleted" // 消息被删除
)

// 通知 namespace（上行）
const (
	EventNotifySubscribe   = "notifications:subscribe"
	EventNotifyMarkRead    = "notification:mark-read"
	EventNotifyMarkAllRead = "notifications:mark-all-read"
	EventNotifyDelete      = "notification:delete"
)

// 通知 namespace（下行推送）
const (
	EventNotifyNew         = "notification:new"
	EventNotifyUnreadCount = "notification:unread-count"
	EventNotifyUpdated     = "notification:updated"
	EventNotifyDeleted     = "notification:deleted"
)

// 协议层事件
const (
	EventAck   = "ack"   // 服务端应答（带 packet_id）
	EventError = "error" // ack data 内的错误标记
)

// 连接生命周期事件（本地合成，不走网络）
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// 通知类型（type 字段）
const (
	NotifyTypeMention    = "mention"     // 被@
	NotifyTypeTaskAssign = "task_assign" // 任务指派
	NotifyTypeTaskUpdate = "task_update" // 任务状态变化
	NotifyTypeSprint     = "sprint"      // 迭代事件
	NotifyTypeSystem     = "system"      // 系统通知
)
