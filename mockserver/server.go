// Package mockserver 一个最小的协议对端实现，供集成测试和 example 使用。
// 路由、信封、状态码与真实服务端保持一致，状态全在内存。
package mockserver

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cydxin/chat-client-sdk/api"
	"github.com/cydxin/chat-client-sdk/message"
	"github.com/cydxin/chat-client-sdk/response"
)

type user struct {
	id   uint64
	hash []byte
}

// Server 内存态后端。并发安全，一个实例可以接任意多个客户端。
type Server struct {
	mu sync.Mutex

	users  map[string]*user  // username -> 账号
	tokens map[string]uint64 // token -> userID

	nextUserID   uint64
	nextMsgID    uint64
	nextNotifyID uint64

	messages      map[uint64][]message.Message      // roomID -> 按 ID 升序
	notifications map[uint64][]message.Notification // userID -> 最新在前

	clients map[*client]struct{}

	uplink   []string // 收到的 chat 上行事件流水（测试断言顺序用）
	rejectNS string   // 该 namespace 的升级请求返回 503（测半建连）
}

func NewServer() *Server {
	return &Server{
		users:         make(map[string]*user),
		tokens:        make(map[string]uint64),
		messages:      make(map[uint64][]message.Message),
		notifications: make(map[uint64][]message.Notification),
		clients:       make(map[*client]struct{}),
	}
}

// Router 组好全部路由的 gin engine，直接丢给 httptest.NewServer。
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.POST("/auth/login", s.handleLogin)

	auth := r.Group("", s.authRequired())
	auth.GET("/message/list", s.handleMessageList)
	auth.GET("/notification/list", s.handleNotificationList)
	auth.POST("/upload", s.handleUpload)
	auth.GET("/ws/:namespace", s.handleWS)

	return r
}

// AddUser 注册一个账号，返回 userID。
func (s *Server) AddUser(username, password string) uint64 {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	s.users[username] = &user{id: s.nextUserID, hash: hash}
	return s.nextUserID
}

// TokenFor 直接给某用户签发 token（测试免登录）。
func (s *Server) TokenFor(userID uint64) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = userID
	s.mu.Unlock()
	return token
}

// RejectNamespace 让指定 namespace 的 ws 升级全部失败（空串恢复）。
func (s *Server) RejectNamespace(ns string) {
	s.mu.Lock()
	s.rejectNS = ns
	s.mu.Unlock()
}

// SeedMessages 预置一个房间的历史消息（按 ID 升序存储）。
func (s *Server) SeedMessages(roomID uint64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < count; i++ {
		s.nextMsgID++
		s.messages[roomID] = append(s.messages[roomID], message.Message{
			ID:        s.nextMsgID,
			RoomID:    roomID,
			SenderID:  1,
			Content:   "msg-" + strconv.FormatUint(s.nextMsgID, 10),
			Type:      message.TypeText,
			CreatedAt: time.Now().Add(-time.Duration(count-i) * time.Minute),
		})
	}
}

// SeedNotification 给某用户预置一条通知，返回分配的 ID。
func (s *Server) SeedNotification(userID uint64, n message.Notification) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextNotifyID++
	n.ID = s.nextNotifyID
	n.UserID = userID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.notifications[userID] = append([]message.Notification{n}, s.notifications[userID]...)
	return n.ID
}

// PushNotification 新建通知并实时推给该用户的通知连接。
func (s *Server) PushNotification(userID uint64, n message.Notification) uint64 {
	id := s.SeedNotification(userID, n)
	s.mu.Lock()
	n.ID = id
	n.UserID = userID
	unread := s.unreadLocked(userID)
	targets := s.notifyClientsLocked(userID)
	s.mu.Unlock()
	for _, c := range targets {
		c.push(eventNotifyNew, n)
		c.push(eventNotifyUnreadCount, message.UnreadCountPush{Count: unread})
	}
	return id
}

// Kick 用正常关闭帧断开某用户的全部连接（触发客户端立即重连）。
func (s *Server) Kick(userID uint64) {
	s.mu.Lock()
	var targets []*client
	for c := range s.clients {
		if c.userID == userID {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.kick()
	}
}

// Drop 不发关闭帧直接断开（模拟网络故障）。
func (s *Server) Drop(userID uint64) {
	s.mu.Lock()
	var targets []*client
	for c := range s.clients {
		if c.userID == userID {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.drop()
	}
}

// Uplink 收到的 chat 上行事件流水，形如 "3:joinRoom:12"。
func (s *Server) Uplink() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.uplink))
	copy(out, s.uplink)
	return out
}

func (s *Server) record(userID uint64, event string, roomID uint64) {
	s.mu.Lock()
	s.uplink = append(s.uplink,
		strconv.FormatUint(userID, 10)+":"+event+":"+strconv.FormatUint(roomID, 10))
	s.mu.Unlock()
}

// Messages 某房间当前消息（升序副本）。
func (s *Server) Messages(roomID uint64) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.messages[roomID]))
	copy(out, s.messages[roomID])
	return out
}

func (s *Server) handleLogin(c *gin.Context) {
	var req api.LoginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, response.Error(response.CodeParamError, err.Error()))
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Username]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusOK, response.Error(response.CodeUserNotFound, "用户不存在"))
		return
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(req.Password)) != nil {
		c.JSON(http.StatusOK, response.Error(response.CodePasswordError, "密码错误"))
		return
	}

	token := s.TokenFor(u.id)
	c.JSON(http.StatusOK, response.Success(api.LoginAck{Token: token, UserID: u.id}))
}

func (s *Server) handleMessageList(c *gin.Context) {
	roomID, _ := strconv.ParseUint(c.Query("room_id"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	all := make([]message.Message, len(s.messages[roomID]))
	copy(all, s.messages[roomID])
	s.mu.Unlock()

	// 最新在前
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	if offset >= len(all) {
		c.JSON(http.StatusOK, response.Success([]message.Message{}))
		return
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	c.JSON(http.StatusOK, response.Success(all[offset:end]))
}

func (s *Server) handleNotificationList(c *gin.Context) {
	userID := c.GetUint64(ctxUserIDKey)

	s.mu.Lock()
	list := make([]message.Notification, len(s.notifications[userID]))
	copy(list, s.notifications[userID])
	unread := s.unreadLocked(userID)
	s.mu.Unlock()

	c.JSON(http.StatusOK, response.Success(message.NotifyListAck{
		Notifications: list,
		UnreadCount:   unread,
	}))
}

func (s *Server) handleUpload(c *gin.Context) {
	userID := c.GetUint64(ctxUserIDKey)
	roomID, _ := strconv.ParseUint(c.PostForm("room_id"), 10, 64)
	msgType := c.DefaultPostForm("type", message.TypeFile)

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusOK, response.Error(response.CodeParamError, "缺少 file 字段"))
		return
	}

	s.mu.Lock()
	s.nextMsgID++
	msg := message.Message{
		ID:        s.nextMsgID,
		RoomID:    roomID,
		SenderID:  userID,
		Content:   c.PostForm("content"),
		Type:      msgType,
		FileURL:   "/files/" + fh.Filename,
		CreatedAt: time.Now(),
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	targets := s.roomClientsLocked(roomID, userID)
	s.mu.Unlock()

	for _, cl := range targets {
		cl.push(eventNewMessage, msg)
	}
	c.JSON(http.StatusOK, response.Success(msg))
}

func (s *Server) unreadLocked(userID uint64) int {
	n := 0
	for _, item := range s.notifications[userID] {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// roomClientsLocked 房间内除 exclude 以外的 chat 连接。
func (s *Server) roomClientsLocked(roomID, exclude uint64) []*client {
	var out []*client
	for c := range s.clients {
		if c.namespace != nsChat || c.userID == exclude {
			continue
		}
		if c.inRoom(roomID) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) notifyClientsLocked(userID uint64) []*client {
	var out []*client
	for c := range s.clients {
		if c.namespace == nsNotifications && c.userID == userID {
			out = append(out, c)
		}
	}
	return out
}
