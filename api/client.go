package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cydxin/chat-client-sdk/message"
	"github.com/cydxin/chat-client-sdk/response"
)

// Client REST 兜底接口客户端：历史分页、通知拉取、文件上传。
// 所有响应走统一信封 {code,msg,data}，code != 0 返回 *response.APIError。
type Client struct {
	base  string
	http  *http.Client
	token func() string
}

// NewClient base 形如 http(s)://host（不带末尾斜杠）。
// token 每次请求时读取；hc 为 nil 时用默认 30s 超时的 client。
func NewClient(base string, hc *http.Client, token func() string) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		http:  hc,
		token: token,
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.token == nil {
		return
	}
	if t := c.token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: http %d", path, resp.StatusCode)
	}
	return response.Decode(resp.Body, out)
}

// ListMessages 历史消息分页：服务端按"最新在前"返回。
func (c *Client) ListMessages(ctx context.Context, roomID uint64, limit, offset int) ([]message.Message, error) {
	q := url.Values{}
	q.Set("room_id", strconv.FormatUint(roomID, 10))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var list []message.Message
	if err := c.get(ctx, "/message/list", q, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListNotifications 通知拉取。
// 服务端可能返回裸数组，也可能返回 {notifications, unread_count}；
// 裸数组时 unread 返回 -1，由调用方自行统计。
func (c *Client) ListNotifications(ctx context.Context) ([]message.Notification, int, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/notification/list", nil, &raw); err != nil {
		return nil, 0, err
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var list []message.Notification
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, 0, fmt.Errorf("decode notification list: %w", err)
		}
		return list, -1, nil
	}

	var ack message.NotifyListAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, 0, fmt.Errorf("decode notification list: %w", err)
	}
	return ack.Notifications, ack.UnreadCount, nil
}

// UploadReq 多段上传参数。Body 由调用方负责（可以套进度统计 reader）。
type UploadReq struct {
	RoomID   uint64
	Type     string
	Content  string
	FileName string
	Body     io.Reader
}

// Upload 多段表单上传，成功返回服务端创建的消息记录。
// ctx 取消即中断传输（上传取消路径依赖这一点）。
func (c *Client) Upload(ctx context.Context, req UploadReq) (*message.Message, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		_ = mw.WriteField("room_id", strconv.FormatUint(req.RoomID, 10))
		if req.Type != "" {
			_ = mw.WriteField("type", req.Type)
		}
		if req.Content != "" {
			_ = mw.WriteField("content", req.Content)
		}
		fw, err := mw.CreateFormFile("file", req.FileName)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(fw, req.Body); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", pr)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("POST /upload: http %d", resp.StatusCode)
	}

	var msg message.Message
	if err := response.Decode(resp.Body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// LoginReq 登录参数（mockserver / 自建后端通用）。
type LoginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginAck 登录返回。
type LoginAck struct {
	Token  string `json:"token"`
	UserID uint64 `json:"user_id"`
}

// Login 账号密码换 token。
func (c *Client) Login(ctx context.Context, username, password string) (*LoginAck, error) {
	body, _ := json.Marshal(LoginReq{Username: username, Password: password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth/login", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("POST /auth/login: http %d", resp.StatusCode)
	}

	var ack LoginAck
	if err := response.Decode(resp.Body, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}
