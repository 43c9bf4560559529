package message

import (
	"time"
)

// 消息类型（type 字段）
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeFile  = "file"
	TypeAudio = "audio"
	TypeVideo = "video"
)

// Message 服务端确认过的消息记录。
// ID 全局唯一，是分页与推送之间去重的唯一依据。
// 创建后不可变；修改只允许走 store 的 Update/Remove 入口。
type Message struct {
	ID        uint64    `json:"id"`
	RoomID    uint64    `json:"room_id"`
	SenderID  uint64    `json:"sender_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	FileURL   string    `json:"file_url,omitempty"`
	ReadBy    []uint64  `json:"read_by,omitempty"` // 已读用户集合
	IsEdited  bool      `json:"is_edited"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadByContains 判断某用户是否在已读集合里。
func (m *Message) ReadByContains(userID uint64) bool {
	for _, uid := range m.ReadBy {
		if uid == userID {
			return true
		}
	}
	return false
}

// Clone 深拷贝（回滚快照用，避免共享 ReadBy 底层数组）。
func (m Message) Clone() Message {
	out := m
	if m.ReadBy != nil {
		out.ReadBy = make([]uint64, len(m.ReadBy))
		copy(out.ReadBy, m.ReadBy)
	}
	return out
}

// Notification 通知记录（notifications namespace）。
type Notification struct {
	ID        uint64         `json:"id"`
	UserID    uint64         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Priority  string         `json:"priority,omitempty"` // low/normal/high
	IsRead    bool           `json:"is_read"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	ActorID   uint64         `json:"actor_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ActionURL string         `json:"action_url,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
