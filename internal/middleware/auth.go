package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/open-dialogue/internal/service/auth"
)

// AuthMiddleware 认证中间件
// 提供了有效 token 时把登录身份写入上下文，否则放行为匿名请求。
func AuthMiddleware(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := parseBearer(c, svc); claims != nil {
			c.Set("display_name", claims.Name)
			c.Set("role", claims.Role)
		}
		c.Next()
	}
}

// RequireAuth 要求有效认证的中间件
func RequireAuth(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := parseBearer(c, svc)
		if claims == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    -1,
				"message": "Invalid or missing token",
			})
			c.Abort()
			return
		}
		c.Set("display_name", claims.Name)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireAdmin 要求管理员角色的中间件
func RequireAdmin(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := parseBearer(c, svc)
		if claims == nil || claims.Role != auth.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    -1,
				"message": "Admin access required",
			})
			c.Abort()
			return
		}
		c.Set("display_name", claims.Name)
		c.Set("role", claims.Role)
		c.Next()
	}
}

func parseBearer(c *gin.Context, svc *auth.Service) *auth.Claims {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil
	}
	claims, err := svc.ValidateToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil
	}
	return claims
}
