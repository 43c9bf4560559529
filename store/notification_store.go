package store

import (
	"sync"
	"time"

	"github.com/cydxin/chat-client-sdk/message"
)

// NotificationStore 通知列表 + 派生未读数。
// 未读数单独维护（服务端也会推 unread-count 覆盖），
// 每次本地变更（乐观或确认）都同步修正，减到 0 为止。
type NotificationStore struct {
	mu sync.Mutex

	items  []message.Notification
	ids    map[uint64]struct{}
	unread int
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{ids: make(map[uint64]struct{})}
}

// NotificationSnapshot 回滚快照：列表副本 + 未读数。
type NotificationSnapshot struct {
	Items  []message.Notification
	Unread int
}

// Snapshot 取当前完整快照。
func (s *NotificationStore) Snapshot() NotificationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]message.Notification, len(s.items))
	copy(items, s.items)
	return NotificationSnapshot{Items: items, Unread: s.unread}
}

// Restore 恢复到快照（整体覆盖）。
func (s *NotificationStore) Restore(snap NotificationSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]message.Notification, len(snap.Items))
	copy(s.items, snap.Items)
	s.ids = make(map[uint64]struct{}, len(s.items))
	for _, n := range s.items {
		s.ids[n.ID] = struct{}{}
	}
	s.unread = snap.Unread
}

// Reset 以服务端列表为基线。unread < 0 表示由列表自行统计。
func (s *NotificationStore) Reset(list []message.Notification, unread int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]message.Notification, 0, len(list))
	s.ids = make(map[uint64]struct{}, len(list))
	count := 0
	for _, n := range list {
		if _, ok := s.ids[n.ID]; ok {
			continue
		}
		s.ids[n.ID] = struct{}{}
		s.items = append(s.items, n)
		if !n.IsRead {
			count++
		}
	}
	if unread >= 0 {
		s.unread = unread
	} else {
		s.unread = count
	}
}

// Add 头插一条新通知（最新在前），幂等。
func (s *NotificationStore) Add(n message.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[n.ID]; ok {
		return false
	}
	s.ids[n.ID] = struct{}{}
	s.items = append([]message.Notification{n}, s.items...)
	if !n.IsRead {
		s.unread++
	}
	return true
}

// Update 按 ID 整体替换（notification:updated 推送）。
// 已读状态变化时同步修正未读数。
func (s *NotificationStore) Update(n message.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == n.ID {
			if !s.items[i].IsRead && n.IsRead {
				s.decUnreadLocked()
			} else if s.items[i].IsRead && !n.IsRead {
				s.unread++
			}
			s.items[i] = n
			return true
		}
	}
	return false
}

// MarkRead 标记单条已读。未读 -> 已读时未读数减一。
func (s *NotificationStore) MarkRead(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			if !s.items[i].IsRead {
				now := time.Now()
				s.items[i].IsRead = true
				s.items[i].ReadAt = &now
				s.decUnreadLocked()
			}
			return true
		}
	}
	return false
}

// MarkAllRead 全部标记已读，未读数清零。
func (s *NotificationStore) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			s.items[i].ReadAt = &now
		}
	}
	s.unread = 0
}

// Remove 按 ID 删除。删的是未读时未读数减一。
func (s *NotificationStore) Remove(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			if !s.items[i].IsRead {
				s.decUnreadLocked()
			}
			s.items = append(s.items[:i], s.items[i+1:]...)
			delete(s.ids, id)
			return true
		}
	}
	return false
}

// SetUnread 服务端推送的权威未读数，直接覆盖。
func (s *NotificationStore) SetUnread(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count < 0 {
		count = 0
	}
	s.unread = count
}

// Unread 当前未读数。
func (s *NotificationStore) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Len 当前通知条数。
func (s *NotificationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// List 列表副本（最新在前）。
func (s *NotificationStore) List() []message.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Notification, len(s.items))
	copy(out, s.items)
	return out
}

func (s *NotificationStore) decUnreadLocked() {
	if s.unread > 0 {
		s.unread--
	}
}
