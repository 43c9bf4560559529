package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cydxin/chat-client-sdk/api"
	"github.com/cydxin/chat-client-sdk/cache"
	"github.com/cydxin/chat-client-sdk/cons"
	"github.com/cydxin/chat-client-sdk/message"
	"github.com/cydxin/chat-client-sdk/store"
)

// NotificationService 通知域编排：
// 订阅推送、REST 刷新、乐观已读/删除（整份快照回滚，保证集合和未读数严格回到操作前）。
type NotificationService struct {
	*Service

	API   *api.Client
	Store *store.NotificationStore
	// State 可选：未读数同步到跨实例缓存
	State *cache.StateCache
}

func NewNotificationService(s *Service, apiClient *api.Client) *NotificationService {
	return &NotificationService{
		Service: s,
		API:     apiClient,
		Store:   store.NewNotificationStore(),
	}
}

// Subscribe 通过通知通道订阅，ack 里带初始列表。
// ack 兼容裸数组和 {notifications, unread_count} 两种形态。
func (s *NotificationService) Subscribe(ctx context.Context, limit int, unreadOnly bool) error {
	data, err := s.EmitAck(ctx, cons.EventNotifySubscribe, message.NotifySubscribeReq{
		Limit:      limit,
		UnreadOnly: unreadOnly,
	})
	if err != nil {
		return err
	}

	list, unread, err := decodeNotifyList(data)
	if err != nil {
		return err
	}
	s.Store.Reset(list, unread)
	s.syncUnread(ctx)
	return nil
}

// Refresh REST 兜底刷新（断线期间 / 首屏）。失败 toast，不动现有状态。
func (s *NotificationService) Refresh(ctx context.Context) error {
	list, unread, err := s.API.ListNotifications(ctx)
	if err != nil {
		s.toast(ToastError, "refresh notifications failed")
		return err
	}
	s.Store.Reset(list, unread)
	s.syncUnread(ctx)
	return nil
}

// MarkRead 乐观标记单条已读。
func (s *NotificationService) MarkRead(ctx context.Context, notificationID uint64) error {
	snap := s.Store.Snapshot()
	return s.runOptimistic(ctx, mutation{
		Name: "mark notification read",
		Apply: func() {
			s.Store.MarkRead(notificationID)
		},
		Call: func(ctx context.Context) error {
			_, err := s.EmitAck(ctx, cons.EventNotifyMarkRead, message.NotifyMarkReadReq{NotificationID: notificationID})
			return err
		},
		Rollback: func() {
			s.Store.Restore(snap)
		},
		Commit: func() {
			s.syncUnread(ctx)
		},
	})
}

// MarkAllRead 乐观全部已读。
func (s *NotificationService) MarkAllRead(ctx context.Context) error {
	snap := s.Store.Snapshot()
	return s.runOptimistic(ctx, mutation{
		Name: "mark all read",
		Apply: func() {
			s.Store.MarkAllRead()
		},
		Call: func(ctx context.Context) error {
			_, err := s.EmitAck(ctx, cons.EventNotifyMarkAllRead, struct{}{})
			return err
		},
		Rollback: func() {
			s.Store.Restore(snap)
		},
		Commit: func() {
			s.syncUnread(ctx)
		},
	})
}

// Delete 乐观删除一条通知。
func (s *NotificationService) Delete(ctx context.Context, notificationID uint64) error {
	snap := s.Store.Snapshot()
	return s.runOptimistic(ctx, mutation{
		Name: "delete notification",
		Apply: func() {
			s.Store.Remove(notificationID)
		},
		Call: func(ctx context.Context) error {
			_, err := s.EmitAck(ctx, cons.EventNotifyDelete, message.NotifyDeleteReq{NotificationID: notificationID})
			return err
		},
		Rollback: func() {
			s.Store.Restore(snap)
		},
		Commit: func() {
			s.syncUnread(ctx)
		},
	})
}

// HandleNew notification:new 推送。
func (s *NotificationService) HandleNew(n message.Notification) {
	s.Store.Add(n)
}

// HandleUnreadCount notification:unread-count 推送：服务端权威值直接覆盖。
func (s *NotificationService) HandleUnreadCount(p message.UnreadCountPush) {
	s.Store.SetUnread(p.Count)
	s.syncUnread(context.Background())
}

// HandleUpdated notification:updated 推送。
func (s *NotificationService) HandleUpdated(n message.Notification) {
	s.Store.Update(n)
}

// HandleDeleted notification:deleted 推送。
func (s *NotificationService) HandleDeleted(p message.NotifyDeletedPush) {
	s.Store.Remove(p.NotificationID)
}

// syncUnread 未读数同步到跨实例缓存（best-effort）。
func (s *NotificationService) syncUnread(ctx context.Context) {
	if s.State == nil {
		return
	}
	if err := s.State.SetUnread(ctx, s.UserID, s.Store.Unread()); err != nil {
		s.logger().Warn("unread sync failed", "error", err)
	}
}

// decodeNotifyList 兼容裸数组 / {notifications, unread_count}。
// 裸数组时 unread 返回 -1 交给 store 统计。
func decodeNotifyList(data json.RawMessage) ([]message.Notification, int, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []message.Notification
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, 0, err
		}
		return list, -1, nil
	}
	var ack message.NotifyListAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, 0, err
	}
	return ack.Notifications, ack.UnreadCount, nil
}
