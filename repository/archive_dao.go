package repository

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cydxin/chat-client-sdk/message"
	"github.com/cydxin/chat-client-sdk/models"
)

// ArchiveDAO 封装本地消息归档的数据库操作。
// 写入全部幂等（message_id 唯一 + OnConflict DoNothing），
// 上层可以对同一批消息重复归档而不用先查。
type ArchiveDAO struct {
	db *gorm.DB
}

// NewArchiveDAO 创建 ArchiveDAO 实例。
func NewArchiveDAO(db *gorm.DB) *ArchiveDAO {
	return &ArchiveDAO{db: db}
}

// AutoMigrate 建归档相关的表。
func (dao *ArchiveDAO) AutoMigrate() error {
	return dao.db.AutoMigrate(&models.ArchivedMessage{}, &models.RoomCursor{})
}

// SaveMessages 批量归档（重复 message_id 跳过）。
func (dao *ArchiveDAO) SaveMessages(msgs []message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]models.ArchivedMessage, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, toArchived(m))
	}
	return dao.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// FindByRoomID 取房间归档（最新在前，和服务端分页同一约定）。
func (dao *ArchiveDAO) FindByRoomID(roomID uint64, limit, offset int) ([]message.Message, error) {
	var rows []models.ArchivedMessage
	err := dao.db.Where("room_id = ? AND is_deleted = ?", roomID, false).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]message.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromArchived(r))
	}
	return out, nil
}

// MarkDeleted 标记归档里的消息已删除（保留行，列表时过滤）。
func (dao *ArchiveDAO) MarkDeleted(messageID uint64) error {
	return dao.db.Model(&models.ArchivedMessage{}).
		Where("message_id = ?", messageID).
		Update("is_deleted", true).Error
}

// UpdateContent 编辑成功后同步归档内容。
func (dao *ArchiveDAO) UpdateContent(messageID uint64, content string) error {
	return dao.db.Model(&models.ArchivedMessage{}).
		Where("message_id = ?", messageID).
		Updates(map[string]any{"content": content, "is_edited": true}).Error
}

// MergeCursor 推进房间已读游标：只增不减（乱序回执不允许回退）。
func (dao *ArchiveDAO) MergeCursor(userID, roomID, lastReadMsgID uint64) error {
	if userID == 0 || roomID == 0 || lastReadMsgID == 0 {
		return nil
	}
	var cur models.RoomCursor
	err := dao.db.Where("user_id = ? AND room_id = ?", userID, roomID).First(&cur).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cur = models.RoomCursor{UserID: userID, RoomID: roomID, LastReadMsgID: lastReadMsgID, UpdatedAt: time.Now()}
			return dao.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&cur).Error
		}
		return err
	}
	return dao.db.Model(&models.RoomCursor{}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Updates(map[string]any{
			"last_read_msg_id": gorm.Expr("CASE WHEN last_read_msg_id < ? THEN ? ELSE last_read_msg_id END", lastReadMsgID, lastReadMsgID),
			"updated_at":       time.Now(),
		}).Error
}

// Cursor 取某房间的已读游标（没有返回 0）。
func (dao *ArchiveDAO) Cursor(userID, roomID uint64) (uint64, error) {
	var cur models.RoomCursor
	err := dao.db.Where("user_id = ? AND room_id = ?", userID, roomID).First(&cur).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return cur.LastReadMsgID, nil
}

func toArchived(m message.Message) models.ArchivedMessage {
	var readBy []byte
	if len(m.ReadBy) > 0 {
		readBy, _ = json.Marshal(m.ReadBy)
	}
	return models.ArchivedMessage{
		MessageID: m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Type:      m.Type,
		Content:   m.Content,
		FileURL:   m.FileURL,
		ReadBy:    readBy,
		IsEdited:  m.IsEdited,
		IsDeleted: m.IsDeleted,
		CreatedAt: m.CreatedAt,
	}
}

func fromArchived(r models.ArchivedMessage) message.Message {
	var readBy []uint64
	if len(r.ReadBy) > 0 {
		_ = json.Unmarshal(r.ReadBy, &readBy)
	}
	return message.Message{
		ID:        r.MessageID,
		RoomID:    r.RoomID,
		SenderID:  r.SenderID,
		Type:      r.Type,
		Content:   r.Content,
		FileURL:   r.FileURL,
		ReadBy:    readBy,
		IsEdited:  r.IsEdited,
		IsDeleted: r.IsDeleted,
		CreatedAt: r.CreatedAt,
	}
}
