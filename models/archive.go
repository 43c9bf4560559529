package models

import (
	"time"

	"gorm.io/datatypes"
)

const prefix = "imc_"

// ArchivedMessage 本地消息归档表。
// 客户端侧的离线缓存：确认过的消息 best-effort 写入，
// 断网时可以从这里先把房间历史灌进 store。
// message_id 唯一：归档写入用 OnConflict DoNothing 保证幂等。
type ArchivedMessage struct {
	ID        uint64         `gorm:"primarykey"`
	MessageID uint64         `gorm:"uniqueIndex;not null"` // 服务端消息 ID
	RoomID    uint64         `gorm:"index:idx_room_created,priority:1;not null"`
	SenderID  uint64         `gorm:"index;not null"`
	Type      string         `gorm:"size:16;not null"`
	Content   string         `gorm:"type:text"`
	FileURL   string         `gorm:"size:500"`
	ReadBy    datatypes.JSON `gorm:"type:json"` // 已读用户 ID 数组
	IsEdited  bool           `gorm:"default:false"`
	IsDeleted bool           `gorm:"default:false;index"`
	CreatedAt time.Time      `gorm:"index:idx_room_created,priority:2"`
	// ArchivedAt 本地写入时间，和服务端 CreatedAt 区分开
	ArchivedAt time.Time `gorm:"autoCreateTime"`
}

func (ArchivedMessage) TableName() string { return prefix + "message_archive" }

// RoomCursor 房间级同步游标（最后已读消息等）。
// 多实例共享走 redis（cache 包）；单实例离线场景落在本地表。
type RoomCursor struct {
	ID            uint64 `gorm:"primarykey"`
	UserID        uint64 `gorm:"uniqueIndex:idx_user_room;not null"`
	RoomID        uint64 `gorm:"uniqueIndex:idx_user_room;not null"`
	LastReadMsgID uint64 `gorm:"not null;default:0"`
	UpdatedAt     time.Time
}

func (RoomCursor) TableName() string { return prefix + "room_cursor" }
