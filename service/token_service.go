package service

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider 返回当前会话 token。
// 连接建立时读一次并捕获；自动重连沿用旧值，轮换 token 要重建连接。
type TokenProvider func() string

// StaticToken 固定 token 的 provider。
func StaticToken(token string) TokenProvider {
	return func() string { return token }
}

// TokenService token 读取与有效性预检。
// 只做不验签的 exp 探测：签名校验是服务端的事，客户端只是避免
// 拿着明知过期的 token 去建连然后吃一个 connect_error。
type TokenService struct {
	provider TokenProvider
}

func NewTokenService(p TokenProvider) *TokenService {
	return &TokenService{provider: p}
}

// Token 当前 token（没有 provider 返回空串）。
func (s *TokenService) Token() string {
	if s == nil || s.provider == nil {
		return ""
	}
	return strings.TrimSpace(s.provider())
}

// Expiry 解析 JWT 的 exp（不验签）。
// 不是 JWT、或没带 exp 的 token 返回 ok=false（视为不过期）。
func (s *TokenService) Expiry(token string) (time.Time, bool) {
	if token == "" || strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Usable token 是否可用于建连：非空且（没有 exp 或 exp 未到）。
func (s *TokenService) Usable(token string) bool {
	if token == "" {
		return false
	}
	exp, ok := s.Expiry(token)
	if !ok {
		return true
	}
	return exp.After(time.Now())
}
