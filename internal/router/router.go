package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/open-dialogue/internal/handler"
	"github.com/ashwinyue/open-dialogue/internal/middleware"
	"github.com/ashwinyue/open-dialogue/internal/service"
)

// SetupRouter 设置路由
func SetupRouter(h *handler.Handlers, svc *service.Services) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.AuthMiddleware(svc.Auth))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// 配置了访问密码时，写操作要求已登录身份
	var guard gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if svc.Config.Auth.RequirePassword {
		guard = middleware.RequireAuth(svc.Auth)
	}

	// API v1
	v1 := r.Group("/api/v1")
	{
		// 认证
		v1.POST("/auth/login", h.Auth.Login)

		// 代理
		agents := v1.Group("/agents")
		{
			agents.GET("", h.Agent.ListAgents)
			agents.PUT("/:name/role", guard, h.Agent.UpdateRole)
		}

		// 会话
		conversations := v1.Group("/conversations")
		{
			conversations.POST("", h.Conversation.CreateConversation)
			conversations.GET("", h.Conversation.ListConversations)
			conversations.GET("/:id/messages", h.Conversation.GetMessages)
			conversations.DELETE("/:id", middleware.RequireAdmin(svc.Auth), h.Conversation.DeleteConversation)
		}

		// 观看端会话
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.Session.CreateSession)
			sessions.GET("/:id/view", h.Session.View)
			sessions.POST("/:id/select", h.Session.SelectConversation)
			sessions.POST("/:id/deselect", h.Session.DeselectConversation)
			sessions.POST("/:id/order", h.Session.SetOrder)
			sessions.POST("/:id/messages", guard, h.Session.SendMessage)
			sessions.POST("/:id/respond", guard, h.Session.Respond)
			sessions.POST("/:id/reflection", guard, h.Session.StartReflection)
			sessions.DELETE("/:id/reflection", guard, h.Session.StopReflection)
		}
	}

	return r
}
