package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("签发测试 token: %v", err)
	}
	return token
}

func TestTokenServiceStatic(t *testing.T) {
	svc := NewTokenService(StaticToken("  abc  "))
	if got := svc.Token(); got != "abc" {
		t.Fatalf("Token() = %q, 期望去掉首尾空白", got)
	}

	var nilSvc *TokenService
	if got := nilSvc.Token(); got != "" {
		t.Fatalf("nil service Token() = %q", got)
	}
	if got := NewTokenService(nil).Token(); got != "" {
		t.Fatalf("nil provider Token() = %q", got)
	}
}

func TestExpiryParsesClaim(t *testing.T) {
	svc := NewTokenService(nil)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	got, ok := svc.Expiry(signedToken(t, jwt.MapClaims{"exp": exp.Unix()}))
	if !ok || !got.Equal(exp) {
		t.Fatalf("Expiry = %v ok=%v, 期望 %v", got, ok, exp)
	}

	// 没带 exp 视为不过期
	if _, ok := svc.Expiry(signedToken(t, jwt.MapClaims{"sub": "42"})); ok {
		t.Fatal("没有 exp 的 token 不应该解析出过期时间")
	}

	// 不是 JWT 的不 panic、不报 exp
	if _, ok := svc.Expiry("opaque-session-token"); ok {
		t.Fatal("非 JWT token 不应该解析出过期时间")
	}
	if _, ok := svc.Expiry(""); ok {
		t.Fatal("空 token 不应该解析出过期时间")
	}
}

func TestUsable(t *testing.T) {
	svc := NewTokenService(nil)

	if svc.Usable("") {
		t.Fatal("空 token 不可用")
	}
	if !svc.Usable("opaque-session-token") {
		t.Fatal("非 JWT token 视为可用")
	}
	if !svc.Usable(signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})) {
		t.Fatal("未过期的 JWT 应该可用")
	}
	if svc.Usable(signedToken(t, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})) {
		t.Fatal("已过期的 JWT 不可用")
	}
}
