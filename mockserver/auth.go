package mockserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cydxin/chat-client-sdk/response"
)

const ctxUserIDKey = "user_id"

// authRequired 鉴权中间件：优先 Authorization: Bearer，再退回 query 参数 token。
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if ah := strings.TrimSpace(c.GetHeader("Authorization")); ah != "" {
			parts := strings.SplitN(ah, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = strings.TrimSpace(parts[1])
			}
		}
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(response.CodeTokenInvalid, "missing token"))
			return
		}

		s.mu.Lock()
		uid, ok := s.tokens[token]
		s.mu.Unlock()
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(response.CodeTokenInvalid, "invalid token"))
			return
		}

		c.Set(ctxUserIDKey, uid)
		c.Next()
	}
}
