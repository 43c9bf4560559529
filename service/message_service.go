package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cydxin/chat-client-sdk/api"
	"github.com/cydxin/chat-client-sdk/cache"
	"github.com/cydxin/chat-client-sdk/cons"
	"github.com/cydxin/chat-client-sdk/message"
	"github.com/cydxin/chat-client-sdk/repository"
	"github.com/cydxin/chat-client-sdk/store"
)

// PendingMessage 乐观发送的本地回显。
// 还没有服务端 ID，所以不进 MessageStore（那边以服务端 ID 去重），
// 确认后换成正式消息，失败整条撤掉。
type PendingMessage struct {
	ClientMsgID string
	RoomID      uint64
	Type        string
	Content     string
	CreatedAt   time.Time
}

// MessageService 消息域编排：
// 房间 store 的分页/实时合并、乐观变更（发送/已读/编辑/删除）、本地归档。
type MessageService struct {
	*Service

	API *api.Client
	// Archive 可选：本地归档（nil 时归档路径全部跳过）
	Archive *repository.ArchiveDAO
	// State 可选：跨实例已读游标缓存
	State *cache.StateCache

	mu      sync.Mutex
	stores  map[uint64]*store.MessageStore
	pending map[string]PendingMessage // client_msg_id -> 回显
}

func NewMessageService(s *Service, apiClient *api.Client) *MessageService {
	return &MessageService{
		Service: s,
		API:     apiClient,
		stores:  make(map[uint64]*store.MessageStore),
		pending: make(map[string]PendingMessage),
	}
}

// Store 取（或懒建）某房间的消息 store。
func (s *MessageService) Store(roomID uint64) *store.MessageStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stores[roomID]
	if st == nil {
		st = store.NewMessageStore(roomID)
		s.stores[roomID] = st
	}
	return st
}

// Bootstrap 进房间时的首屏加载：拉第一页作为基线。
// 网络失败时降级读本地归档（有归档才降级，否则原样报错）。
func (s *MessageService) Bootstrap(ctx context.Context, roomID uint64) error {
	st := s.Store(roomID)

	page, err := s.API.ListMessages(ctx, roomID, store.PageSize, 0)
	if err != nil {
		if s.Archive == nil {
			return err
		}
		s.logger().Warn("bootstrap from network failed, falling back to archive", "room_id", roomID, "error", err)
		page, err = s.Archive.FindByRoomID(roomID, store.PageSize, 0)
		if err != nil {
			return err
		}
	}

	// 服务端/归档都是最新在前；基线要旧 -> 新
	baseline := make([]message.Message, len(page))
	for i, m := range page {
		baseline[len(page)-1-i] = m
	}
	st.Reset(baseline)
	s.archiveSave(page)
	return nil
}

// LoadMore 向更早的历史翻一页。
// 已在加载中或没有更多历史时静默 no-op（不发请求）。
func (s *MessageService) LoadMore(ctx context.Context, roomID uint64) error {
	st := s.Store(roomID)
	if !st.BeginLoad() {
		return nil
	}

	page, err := s.API.ListMessages(ctx, roomID, store.PageSize, st.Offset())
	if err != nil {
		st.AbortLoad()
		s.toast(ToastError, "load history failed")
		return err
	}
	st.MergePage(page)
	s.archiveSave(page)
	return nil
}

// Send 乐观发送：先挂本地回显，ack 后换正式消息，失败撤回显 + toast。
func (s *MessageService) Send(ctx context.Context, roomID uint64, msgType, content string) (*message.Message, error) {
	if roomID == 0 {
		return nil, errors.New("room_id is required")
	}
	if msgType == "" {
		msgType = message.TypeText
	}

	clientID := uuid.NewString()
	echo := PendingMessage{
		ClientMsgID: clientID,
		RoomID:      roomID,
		Type:        msgType,
		Content:     content,
		CreatedAt:   time.Now(),
	}

	var confirmed *message.Message
	err := s.runOptimistic(ctx, mutation{
		Name: "send message",
		Apply: func() {
			s.mu.Lock()
			s.pending[clientID] = echo
			s.mu.Unlock()
		},
		Call: func(ctx context.Context) error {
			data, err := s.EmitAck(ctx, cons.EventSendMessage, message.SendReq{
				RoomID:      roomID,
				Type:        msgType,
				Content:     content,
				ClientMsgID: clientID,
			})
			if err != nil {
				return err
			}
			var ack message.SendAck
			if err := json.Unmarshal(data, &ack); err != nil {
				return err
			}
			if !ack.Success || ack.Message == nil {
				return errors.New("send rejected by server")
			}
			confirmed = ack.Message
			return nil
		},
		Rollback: func() {
			s.mu.Lock()
			delete(s.pending, clientID)
			s.mu.Unlock()
		},
		Commit: func() {
			s.mu.Lock()
			delete(s.pending, clientID)
			s.mu.Unlock()
			s.Store(confirmed.RoomID).Add(*confirmed)
			s.archiveSave([]message.Message{*confirmed})
		},
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// Pending 某房间当前的本地回显（UI 渲染在确认消息之后）。
func (s *MessageService) Pending(roomID uint64) []PendingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingMessage, 0, len(s.pending))
	for _, p := range s.pending {
		if p.RoomID == roomID {
			out = append(out, p)
		}
	}
	return out
}

// MarkAsRead 乐观标记单条已读：本地先写 ReadBy，失败恢复原快照。
// 消息不在 store 里时直接 no-op。
func (s *MessageService) MarkAsRead(ctx context.Context, roomID, messageID uint64) error {
	st := s.Store(roomID)
	snap, ok := st.Get(messageID)
	if !ok {
		return nil
	}
	if snap.ReadByContains(s.UserID) {
		return nil
	}

	return s.runOptimistic(ctx, mutation{
		Name: "mark as read",
		Apply: func() {
			st.Update(messageID, func(m *message.Message) {
				m.ReadBy = append(m.ReadBy, s.UserID)
			})
		},
		Call: func(ctx context.Context) error {
			_, err := s.EmitAck(ctx, cons.EventMarkAsRead, message.MarkAsReadReq{MessageID: messageID})
			return err
		},
		Rollback: func() {
			st.Update(messageID, func(m *message.Message) {
				m.ReadBy = snap.ReadBy
			})
		},
		Commit: func() {
			s.mergeCursor(ctx, roomID, messageID)
		},
	})
}

// MarkRoomAsRead 乐观整房已读。
func (s *MessageService) MarkRoomAsRead(ctx context.Context, roomID uint64) error {
	st := s.Store(roomID)

	// 快照：这次操作会动到的消息 ID 集合
	var affected []uint64
	var lastID uint64
	for _, m := range st.Snapshot() {
		if m.ID > lastID {
			lastID = m.ID
		}
		if !m.ReadByContains(s.UserID) {
			affected = append(affected, m.ID)
		}
	}

	return s.runOptimistic(ctx, mutation{
		Name: "mark room as read",
		Apply: func() {
			for _, id := range affected {
				st.Update(id, func(m *message.Message) {
					m.ReadBy = append(m.ReadBy, s.UserID)
				})
			}
		},
		Call: func(ctx context.Context) error {
			_, err := s.EmitAck(ctx, cons.EventMarkRoomAsRead, message.MarkRoomAsReadReq{RoomID: roomID})
			return err
		},
		Rollback: func() {
			for _, id := range affected {
				st.Update(id, func(m *message.Message) {
					m.ReadBy = removeUser(m.ReadBy, s.UserID)
				})
			}
		},
		Commit: func() {
			s.mergeCursor(ctx, roomID, lastID)
		},
	})
}

// Edit 乐观编辑：本地先改内容 + is_edited，失败恢复。
func (s *MessageService) Edit(ctx context.Context, roomID, messageID uint64, content string) error {
	st := s.Store(roomID)
	snap, ok := st.Get(messageID)
	if !ok {
		return nil
	}

	return s.runOptimistic(ctx, mutation{
		Name: "edit message",
		Apply: func() {
			st.Update(messageID, func(m *message.Message) {
				m.Content = content
				m.IsEdited = true
			})
		},
		Call: func(ctx context.Context) error {
			_, err := s.EmitAck(ctx, cons.EventEditMessage, message.EditReq{MessageID: messageID, Content: content})
			return err
		},
		Rollback: func() {
			st.Update(messageID, func(m *message.Message) {
				m.Content = snap.Content
				m.IsEdited = snap.IsEdited
			})
		},
		Commit: func() {
			if s.Archive != nil {
				if err := s.Archive.UpdateContent(messageID, content); err != nil {
					s.logger().Warn("archive update failed", "message_id", messageID, "error", err)
				}
			}
		},
	})
}

// Delete 乐观删除：本地先摘掉，失败按原下标插回。
func (s *MessageService) Delete(ctx context.Context, roomID, messageID uint64) error {
	st := s.Store(roomID)
	removed, idx, ok := st.Remove(messageID)
	if !ok {
		return nil
	}

	return s.runOptimistic(ctx, mutation{
		Name: "delete message",
		// 快照就是 Remove 的返回值，Apply 已经在上面发生了
		Call: func(ctx context.Context) error {
			_, err := s.EmitAck(ctx, cons.EventDeleteMessage, message.DeleteReq{MessageID: messageID})
			return err
		},
		Rollback: func() {
			st.Insert(removed, idx)
		},
		Commit: func() {
			// 确认删除后占住 ID，迟到的重复推送不会复活它
			st.Tombstone(messageID)
			if s.Archive != nil {
				if err := s.Archive.MarkDeleted(messageID); err != nil {
					s.logger().Warn("archive delete failed", "message_id", messageID, "error", err)
				}
			}
		},
	})
}

// Typing 输入状态，fire-and-forget（没有 ack、没有回滚）。
func (s *MessageService) Typing(roomID uint64, isTyping bool) {
	s.Emit(cons.EventTyping, message.TypingReq{RoomID: roomID, IsTyping: isTyping})
}

// HandleNewMessage newMessage 推送：幂等入 store + 归档。
func (s *MessageService) HandleNewMessage(m message.Message) {
	if s.Store(m.RoomID).Add(m) {
		s.archiveSave([]message.Message{m})
	}
}

// HandleEdited messageEdited 推送：整条覆盖。
func (s *MessageService) HandleEdited(m message.Message) {
	s.Store(m.RoomID).Update(m.ID, func(cur *message.Message) {
		*cur = m
	})
}

// HandleDeleted messageDeleted 推送：终局删除，ID 留占位防重复推送复活。
func (s *MessageService) HandleDeleted(p message.DeletedPush) {
	s.Store(p.RoomID).Tombstone(p.MessageID)
	if s.Archive != nil {
		_ = s.Archive.MarkDeleted(p.MessageID)
	}
}

// HandleRead messageRead 推送：把用户追加进 ReadBy。
func (s *MessageService) HandleRead(r message.ReadReceipt) {
	s.Store(r.RoomID).Update(r.MessageID, func(m *message.Message) {
		if !m.ReadByContains(r.UserID) {
			m.ReadBy = append(m.ReadBy, r.UserID)
		}
	})
}

// archiveSave best-effort 批量归档，失败只打日志。
func (s *MessageService) archiveSave(msgs []message.Message) {
	if s.Archive == nil || len(msgs) == 0 {
		return
	}
	if err := s.Archive.SaveMessages(msgs); err != nil {
		s.logger().Warn("archive save failed", "count", len(msgs), "error", err)
	}
}

// mergeCursor 已读确认后推进游标（redis + 本地归档都是 best-effort）。
func (s *MessageService) mergeCursor(ctx context.Context, roomID, messageID uint64) {
	if messageID == 0 {
		return
	}
	if s.State != nil {
		if _, err := s.State.MergeLastRead(ctx, s.UserID, roomID, messageID); err != nil {
			s.logger().Warn("state cache merge failed", "room_id", roomID, "error", err)
		}
	}
	if s.Archive != nil {
		if err := s.Archive.MergeCursor(s.UserID, roomID, messageID); err != nil {
			s.logger().Warn("cursor merge failed", "room_id", roomID, "error", err)
		}
	}
}

func removeUser(readBy []uint64, userID uint64) []uint64 {
	out := readBy[:0]
	for _, uid := range readBy {
		if uid != userID {
			out = append(out, uid)
		}
	}
	return out
}
