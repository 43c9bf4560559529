package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	chat_client_sdk "github.com/cydxin/chat-client-sdk"
	"github.com/cydxin/chat-client-sdk/message"
	"github.com/cydxin/chat-client-sdk/service"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	// 1. 可选：本地归档数据库（没有也能跑，只是断网时没有离线历史）
	var db *gorm.DB
	dsn := os.Getenv("ARCHIVE_DSN") // 例: root:password@tcp(127.0.0.1:3306)/chat_archive?charset=utf8mb4&parseTime=True&loc=Local
	if dsn != "" {
		var err error
		db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Fatal("归档数据库连接失败:", err)
		}
	}

	// 2. 可选：跨实例状态缓存
	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}

	// 3. 初始化引擎（单例模式，全局只需调用一次）
	engine := chat_client_sdk.NewEngine(
		chat_client_sdk.WithBaseURL(envOr("CHAT_BASE_URL", "http://localhost:8080")),
		chat_client_sdk.WithToken(os.Getenv("CHAT_TOKEN")),
		chat_client_sdk.WithDB(db),
		chat_client_sdk.WithRDB(rdb),
		chat_client_sdk.WithToast(func(level service.ToastLevel, msg string) {
			log.Printf("[%s] %s", level, msg)
		}),
	)

	// 没配 token 可以走账号密码登录
	ctx := context.Background()
	if os.Getenv("CHAT_TOKEN") == "" {
		ack, err := engine.API.Login(ctx, envOr("CHAT_USER", "demo"), envOr("CHAT_PASS", "demo123"))
		if err != nil {
			log.Fatal("登录失败:", err)
		}
		engine.SetUser(ack.UserID)
		// token 轮换场景：重建连接才会带上新 token
		engine.TokenService = service.NewTokenService(service.StaticToken(ack.Token))
	}

	if err := engine.Connect(); err != nil {
		log.Fatal("建连失败:", err)
	}
	defer engine.Close()

	// 4. 进入房间：首屏历史 + 实时事件
	roomID := uint64(1)
	if err := engine.MsgService.Bootstrap(ctx, roomID); err != nil {
		log.Println("历史加载失败:", err)
	}
	for _, m := range engine.MsgService.Store(roomID).Snapshot() {
		log.Printf("[历史] #%d %s", m.ID, m.Content)
	}

	binder := engine.NewRoomBinder()
	binder.SetHandlers(chat_client_sdk.RoomHandlers{
		OnNewMessage: func(m message.Message) {
			log.Printf("[新消息] #%d 来自 %d: %s", m.ID, m.SenderID, m.Content)
		},
		OnTyping: func(p message.TypingPush) {
			log.Printf("[输入中] 用户 %d", p.UserID)
		},
		OnDeleted: func(p message.DeletedPush) {
			log.Printf("[已删除] #%d", p.MessageID)
		},
	})
	binder.SetRoom(roomID)
	defer binder.Close()

	// 5. 发一条消息（乐观回显 -> ack 确认）
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if m, err := engine.MsgService.Send(sendCtx, roomID, "", "hello from headless client"); err == nil {
		log.Printf("发送成功 #%d", m.ID)
	}
	cancel()

	// 6. 挂着收推送，Ctrl+C 退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("退出")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
