package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ToastLevel 用户可见提示的级别。
type ToastLevel string

const (
	ToastInfo  ToastLevel = "info"
	ToastError ToastLevel = "error"
)

// Service 基础服务：各业务 service 共享的依赖。
// WS 能力通过函数注入，避免 service 层反向依赖根包的 Conn。
type Service struct {
	Log *slog.Logger

	// Emit 非 ack 发送（未连接时由连接层自行降级为 no-op）
	Emit func(event string, payload any)

	// EmitAck 发送并等待服务端应答；失败（含业务拒绝）返回 error
	EmitAck func(ctx context.Context, event string, payload any) (json.RawMessage, error)

	// Toast 用户可见失败提示（snackbar 等价物）。可以为 nil。
	Toast func(level ToastLevel, msg string)

	// DB 可选：本地消息归档（为 nil 时归档相关路径直接跳过）
	DB *gorm.DB

	// RDB 可选：跨实例同步状态缓存
	RDB *redis.Client

	// UserID 当前登录用户（乐观已读标记要写进 ReadBy）
	UserID uint64
}

// toast 空安全的提示发送。
func (s *Service) toast(level ToastLevel, msg string) {
	if s.Toast != nil {
		s.Toast(level, msg)
	}
}

// logger 空安全的 logger。
func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
