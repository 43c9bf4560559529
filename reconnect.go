package chat_client_sdk

import "time"

// ConnState 连接状态机。
// 取代零散的 bool 标记：状态迁移只发生在 connect/disconnect/error 事件里。
type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFailed 重连次数耗尽，连接进入终态；只能重建 Conn。
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReconnectPolicy 自动重连策略：基础延迟指数增长、封顶、限次。
type ReconnectPolicy struct {
	MaxAttempts int           // 超过后放弃，进入 failed
	BaseDelay   time.Duration // 第一次重连前的等待
	MaxDelay    time.Duration // 延迟上限
}

// DefaultReconnectPolicy 默认策略：1s 起步、30s 封顶、最多 5 次。
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	out := p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = time.Second
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 30 * time.Second
	}
	return out
}

// Delay 第 attempt 次重连（从 1 数起）前应等待的时间。
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
