package chat_client_sdk

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cydxin/chat-client-sdk/api"
	"github.com/cydxin/chat-client-sdk/cache"
	"github.com/cydxin/chat-client-sdk/cons"
	"github.com/cydxin/chat-client-sdk/repository"
	"github.com/cydxin/chat-client-sdk/service"
)

// ClientEngine 客户端引擎，持有两条 ws 连接和各业务 service。
type ClientEngine struct {
	config *Config
	log    *slog.Logger

	API          *api.Client
	TokenService *service.TokenService

	MsgService    *service.MessageService
	NotifyService *service.NotificationService
	UploadService *service.UploadService

	mu         sync.Mutex
	ChatConn   *Conn
	NotifyConn *Conn
}

var (
	Instance *ClientEngine
	once     sync.Once
)

// NewEngine 全局单例。
func NewEngine(opts ...Option) *ClientEngine {
	once.Do(func() {
		Instance = newEngine(opts...)
	})
	return Instance
}

func newEngine(opts ...Option) *ClientEngine {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	e := &ClientEngine{config: cfg, log: log}

	provider := cfg.TokenProvider
	if provider == nil {
		provider = service.StaticToken(cfg.Token)
	}
	e.TokenService = service.NewTokenService(provider)
	// 闭包读字段：登录后整个替换 e.TokenService，REST 请求也要拿到新 token
	e.API = api.NewClient(cfg.BaseURL, cfg.HTTPClient, func() string {
		return e.TokenService.Token()
	})

	base := &service.Service{
		Log:    log,
		Toast:  cfg.Toast,
		DB:     cfg.DB,
		RDB:    cfg.RDB,
		UserID: cfg.UserID,
	}

	var archive *repository.ArchiveDAO
	if cfg.DB != nil {
		archive = repository.NewArchiveDAO(cfg.DB)
		if err := archive.AutoMigrate(); err != nil {
			log.Error("归档表迁移失败", "err", err)
			archive = nil
		}
	}
	var state *cache.StateCache
	if cfg.RDB != nil {
		state = cache.NewStateCache(cfg.RDB)
	}

	// 消息走 chat 连接
	chatBase := *base
	chatBase.Emit = func(event string, payload any) {
		if c := e.chatConn(); c != nil {
			c.Emit(event, payload)
		}
	}
	chatBase.EmitAck = func(ctx context.Context, event string, payload any) (json.RawMessage, error) {
		c := e.chatConn()
		if c == nil {
			return nil, errors.New("chat 连接未建立")
		}
		return c.EmitAck(ctx, event, payload)
	}
	e.MsgService = service.NewMessageService(&chatBase, e.API)
	e.MsgService.Archive = archive
	e.MsgService.State = state

	// 通知走 notifications 连接
	notifyBase := *base
	notifyBase.Emit = func(event string, payload any) {
		if c := e.notifyConn(); c != nil {
			c.Emit(event, payload)
		}
	}
	notifyBase.EmitAck = func(ctx context.Context, event string, payload any) (json.RawMessage, error) {
		c := e.notifyConn()
		if c == nil {
			return nil, errors.New("notifications 连接未建立")
		}
		return c.EmitAck(ctx, event, payload)
	}
	e.NotifyService = service.NewNotificationService(&notifyBase, e.API)
	e.NotifyService.State = state

	uploadBase := *base
	e.UploadService = service.NewUploadService(&uploadBase, e.API)
	if cfg.UploadSuccessGrace > 0 {
		e.UploadService.SuccessGrace = cfg.UploadSuccessGrace
	}
	if cfg.UploadErrorGrace > 0 {
		e.UploadService.ErrorGrace = cfg.UploadErrorGrace
	}

	return e
}

// SetUser 登录后设置当前用户（已读标记要写进 ReadBy）。
func (e *ClientEngine) SetUser(userID uint64) {
	e.config.UserID = userID
	e.MsgService.UserID = userID
	e.NotifyService.UserID = userID
	e.UploadService.UserID = userID
}

// Connect 建立两条 ws 连接并挂载推送处理。
// 没有可用 token 时静默跳过：未登录不是错误。
func (e *ClientEngine) Connect() error {
	token := e.TokenService.Token()
	if !e.TokenService.Usable(token) {
		e.log.Warn("跳过建连：token 缺失或已过期")
		return nil
	}

	endpoint := e.wsEndpoint()

	e.mu.Lock()
	if e.ChatConn != nil {
		e.mu.Unlock()
		return errors.New("已连接，先 Close 或用 Reconnect")
	}
	chat := newConn(cons.NamespaceChat, endpoint, token, e.config.Reconnect, e.log)
	notify := newConn(cons.NamespaceNotifications, endpoint, token, e.config.Reconnect, e.log)
	e.ChatConn = chat
	e.NotifyConn = notify
	e.mu.Unlock()

	e.bindChatHandlers(chat)
	e.bindNotifyHandlers(notify)

	// 半建连不保留：失败时两条一起拆掉，调用方可以直接重试 Connect
	if err := chat.Connect(); err != nil {
		e.Close()
		return err
	}
	if err := notify.Connect(); err != nil {
		e.Close()
		return err
	}
	return nil
}

// Reconnect 用最新 token 重建连接（轮换 token 的唯一途径）。
func (e *ClientEngine) Reconnect() error {
	e.Close()
	return e.Connect()
}

// Close 关闭两条连接。引擎可再次 Connect。
func (e *ClientEngine) Close() {
	e.mu.Lock()
	chat, notify := e.ChatConn, e.NotifyConn
	e.ChatConn, e.NotifyConn = nil, nil
	e.mu.Unlock()
	if chat != nil {
		chat.Close()
	}
	if notify != nil {
		notify.Close()
	}
}

// NewRoomBinder 在 chat 连接上创建房间绑定器。未连接返回 nil。
func (e *ClientEngine) NewRoomBinder() *RoomBinder {
	c := e.chatConn()
	if c == nil {
		return nil
	}
	return NewRoomBinder(c, e.log)
}

func (e *ClientEngine) chatConn() *Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ChatConn
}

func (e *ClientEngine) notifyConn() *Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.NotifyConn
}

func (e *ClientEngine) wsEndpoint() string {
	if e.config.WSBaseURL != "" {
		return strings.TrimRight(e.config.WSBaseURL, "/")
	}
	base := strings.TrimRight(e.config.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
