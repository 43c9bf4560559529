package chat_client_sdk

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/cydxin/chat-client-sdk/service"
)

// Config 引擎配置。
type Config struct {
	// BaseURL REST 接口根地址，如 https://chat.example.com
	BaseURL string
	// WSBaseURL WS 根地址（不带 namespace），如 wss://chat.example.com/ws。
	// 为空时由 BaseURL 推导（http->ws + /ws）。
	WSBaseURL string
	// HTTPClient 为空用默认（30s 超时）
	HTTPClient *http.Client

	// Token 静态 token；TokenProvider 优先
	Token string
	// TokenProvider 每次建连时读取。重连沿用建连时捕获的值，
	// 轮换 token 需要 Reconnect() 重建连接。
	TokenProvider service.TokenProvider

	// UserID 当前登录用户（乐观已读标记要写进 ReadBy）
	UserID uint64

	// DB 可选：本地消息归档
	DB *gorm.DB
	// RDB 可选：跨实例同步状态缓存
	RDB *redis.Client

	// Reconnect 重连策略（零值走默认）
	Reconnect ReconnectPolicy

	Logger *slog.Logger

	// Toast 失败提示回调（snackbar 等价物），可以为 nil
	Toast func(level service.ToastLevel, msg string)

	// 上传终态宽限期（零值走默认 2s/5s）
	UploadSuccessGrace time.Duration
	UploadErrorGrace   time.Duration
}

type Option func(*Config)

func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

func WithWSBaseURL(url string) Option {
	return func(c *Config) {
		c.WSBaseURL = url
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = hc
	}
}

func WithToken(token string) Option {
	return func(c *Config) {
		c.Token = token
	}
}

func WithTokenProvider(p service.TokenProvider) Option {
	return func(c *Config) {
		c.TokenProvider = p
	}
}

func WithUserID(userID uint64) Option {
	return func(c *Config) {
		c.UserID = userID
	}
}

func WithDB(db *gorm.DB) Option {
	return func(c *Config) {
		c.DB = db
	}
}

func WithRDB(rdb *redis.Client) Option {
	return func(c *Config) {
		c.RDB = rdb
	}
}

func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Config) {
		c.Reconnect = p
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithToast(fn func(level service.ToastLevel, msg string)) Option {
	return func(c *Config) {
		c.Toast = fn
	}
}

// WithUploadGrace 上传终态在活跃列表里的保留时间。
func WithUploadGrace(success, fail time.Duration) Option {
	return func(c *Config) {
		c.UploadSuccessGrace = success
		c.UploadErrorGrace = fail
	}
}
