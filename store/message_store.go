package store

import (
	"sync"

	"github.com/cydxin/chat-client-sdk/message"
)

// PageSize 历史消息分页固定页大小
const PageSize = 50

// MessageStore 单个房间的消息列表状态。
// 不变量：
// - messages 按时间升序（旧 -> 新），无重复 ID；
// - 服务端分页按"最新在前"返回，合并前必须 reverse 再插到头部；
// - offset 只按页大小推进，短页后 hasMore=false，不再发起拉取。
// 并发：所有入口加锁；LoadMore 由 inFlight 防抖，不依赖并发合并可交换。
type MessageStore struct {
	mu sync.Mutex

	roomID    uint64
	messages  []message.Message
	loadedIDs map[uint64]struct{}
	offset    int
	hasMore   bool
	inFlight  bool
}

func NewMessageStore(roomID uint64) *MessageStore {
	return &MessageStore{
		roomID:    roomID,
		loadedIDs: make(map[uint64]struct{}),
		hasMore:   true,
	}
}

func (s *MessageStore) RoomID() uint64 { return s.roomID }

// Reset 以 list（旧 -> 新）为全新基线，重置 offset/loadedIDs。
// 整页基线（len == PageSize）视为可能还有更早的历史。
func (s *MessageStore) Reset(list []message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]message.Message, 0, len(list))
	s.loadedIDs = make(map[uint64]struct{}, len(list))
	for _, m := range list {
		if _, ok := s.loadedIDs[m.ID]; ok {
			continue
		}
		s.loadedIDs[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
	s.offset = len(s.messages)
	s.hasMore = len(list) >= PageSize
	s.inFlight = false
}

// BeginLoad 尝试占用加载权。已在加载中或没有更多数据时返回 false。
func (s *MessageStore) BeginLoad() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight || !s.hasMore {
		return false
	}
	s.inFlight = true
	return true
}

// AbortLoad 拉取失败时释放加载权，不动其余状态。
func (s *MessageStore) AbortLoad() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Offset 当前分页偏移。
func (s *MessageStore) Offset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// HasMore 是否可能还有更早的历史。
func (s *MessageStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// MergePage 合并一页历史消息（服务端约定：最新在前）。
// 已存在的 ID 丢弃；余下 reverse 成升序后插到现有序列头部；
// offset 固定推进一个页大小；短页（< PageSize）后 hasMore=false。
// 返回实际新增条数。
func (s *MessageStore) MergePage(page []message.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]message.Message, 0, len(page))
	for _, m := range page {
		if _, ok := s.loadedIDs[m.ID]; ok {
			continue
		}
		s.loadedIDs[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}

	// reverse：页内是 新->旧，存储要 旧->新
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}

	s.messages = append(fresh, s.messages...)
	s.offset += PageSize
	if len(page) < PageSize {
		s.hasMore = false
	}
	s.inFlight = false
	return len(fresh)
}

// Add 追加一条实时推送的消息（幂等：重复 ID 丢弃）。
func (s *MessageStore) Add(m message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loadedIDs[m.ID]; ok {
		return false
	}
	s.loadedIDs[m.ID] = struct{}{}
	s.messages = append(s.messages, m)
	return true
}

// Get 按 ID 取消息快照（副本）。
func (s *MessageStore) Get(id uint64) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			return s.messages[i].Clone(), true
		}
	}
	return message.Message{}, false
}

// Update 按 ID 原地替换。ID 不存在时是 no-op，返回 false。
func (s *MessageStore) Update(id uint64, fn func(m *message.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			fn(&s.messages[i])
			return true
		}
	}
	return false
}

// Remove 按 ID 删除，返回被删的消息和它原来的下标（回滚重插用）。
func (s *MessageStore) Remove(id uint64) (message.Message, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			removed := s.messages[i]
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			delete(s.loadedIDs, id)
			return removed, i, true
		}
	}
	return message.Message{}, 0, false
}

// Tombstone 终局删除：摘掉消息并把 ID 永久占位（到下一次 Reset 为止），
// 迟到的重复 newMessage 推送不会再把它插回来。
// 回滚要重插的场景用 Remove，不要用这个。
func (s *MessageStore) Tombstone(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	s.loadedIDs[id] = struct{}{}
}

// Insert 在指定下标重插一条消息（回滚用）。重复 ID 丢弃。
func (s *MessageStore) Insert(m message.Message, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loadedIDs[m.ID]; ok {
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(s.messages) {
		index = len(s.messages)
	}
	s.loadedIDs[m.ID] = struct{}{}
	s.messages = append(s.messages[:index], append([]message.Message{m}, s.messages[index:]...)...)
}

// Len 当前条数。
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Snapshot 返回当前序列的副本（旧 -> 新）。
func (s *MessageStore) Snapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.messages))
	for i := range s.messages {
		out[i] = s.messages[i].Clone()
	}
	return out
}
