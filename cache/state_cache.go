package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// 默认同步状态过期时间（滑动：每次写都会续期）
	defaultStateTTL = 30 * 24 * time.Hour
)

// mergeReadScript 只增不减地写入已读游标，避免乱序回执把游标打回去。
var mergeReadScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if (not cur) or (tonumber(cur) < tonumber(ARGV[2])) then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  redis.call('EXPIRE', KEYS[1], ARGV[3])
  return 1
end
return 0
`)

// StateCache 跨实例共享的同步状态（headless 客户端多副本场景）。
// Redis Key 设计：
// - imc:last_read:{userID} -> Hash(roomID -> last_read_msg_id)
// - imc:unread:{userID}    -> String(未读数)
type StateCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStateCache(rdb *redis.Client) *StateCache {
	return &StateCache{rdb: rdb, ttl: defaultStateTTL}
}

func (c *StateCache) ensure() error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	return nil
}

func (c *StateCache) lastReadKey(userID uint64) string {
	return fmt.Sprintf("imc:last_read:%d", userID)
}

func (c *StateCache) unreadKey(userID uint64) string {
	return fmt.Sprintf("imc:unread:%d", userID)
}

// MergeLastRead 推进某房间的已读游标（greater-wins）。
// 返回是否真的推进了。
func (c *StateCache) MergeLastRead(ctx context.Context, userID, roomID, lastReadMsgID uint64) (bool, error) {
	if err := c.ensure(); err != nil {
		return false, err
	}
	if userID == 0 || roomID == 0 || lastReadMsgID == 0 {
		return false, nil
	}
	n, err := mergeReadScript.Run(ctx, c.rdb,
		[]string{c.lastReadKey(userID)},
		strconv.FormatUint(roomID, 10),
		strconv.FormatUint(lastReadMsgID, 10),
		int(c.ttl.Seconds()),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LastReads 取用户全部房间的已读游标快照（room_id -> last_read_msg_id）。
func (c *StateCache) LastReads(ctx context.Context, userID uint64) (map[uint64]uint64, error) {
	if err := c.ensure(); err != nil {
		return nil, err
	}
	raw, err := c.rdb.HGetAll(ctx, c.lastReadKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]uint64, len(raw))
	for k, v := range raw {
		roomID, err1 := strconv.ParseUint(k, 10, 64)
		msgID, err2 := strconv.ParseUint(v, 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out[roomID] = msgID
	}
	return out, nil
}

// SetUnread 覆盖写未读数（服务端推送的权威值）。
func (c *StateCache) SetUnread(ctx context.Context, userID uint64, count int) error {
	if err := c.ensure(); err != nil {
		return err
	}
	if count < 0 {
		count = 0
	}
	return c.rdb.Set(ctx, c.unreadKey(userID), count, c.ttl).Err()
}

// Unread 读未读数；没有记录返回 0。
func (c *StateCache) Unread(ctx context.Context, userID uint64) (int, error) {
	if err := c.ensure(); err != nil {
		return 0, err
	}
	v, err := c.rdb.Get(ctx, c.unreadKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("bad unread value %q: %w", v, err)
	}
	return n, nil
}

// Clear 清掉用户的同步状态（登出用）。
func (c *StateCache) Clear(ctx context.Context, userID uint64) error {
	if err := c.ensure(); err != nil {
		return err
	}
	return c.rdb.Del(ctx, c.lastReadKey(userID), c.unreadKey(userID)).Err()
}
