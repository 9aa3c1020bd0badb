package api

import (
	"github.com/gin-gonic/gin"

	"hudhud.im.sync/internal/api/handler"
	"hudhud.im.sync/internal/api/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Conversations *handler.ConversationHandler
	Messages      *handler.MessageHandler
	Feed          *handler.FeedHandler
	Account       *handler.AccountHandler
}

// SetupRouter 设置路由
func SetupRouter(mode string, corsOrigins []string, validator middleware.TokenValidator, h Handlers) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(corsOrigins))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(validator))
	{
		convs := v1.Group("/conversations")
		{
			convs.GET("", h.Conversations.List)
			convs.GET("/unread", h.Conversations.TotalUnread)
			convs.POST("/direct", h.Conversations.CreateDirect)
			convs.GET("/direct/:peerId", h.Conversations.FindDirect)
			convs.POST("/group", h.Conversations.CreateGroup)
			convs.GET("/:id", h.Conversations.Get)
			convs.PATCH("/:id/members", h.Conversations.UpdateMembership)
			convs.PUT("/:id/info", h.Conversations.UpdateInfo)
			convs.DELETE("/:id", h.Conversations.Delete)

			convs.GET("/:id/messages", h.Messages.List)
			convs.POST("/:id/messages", h.Messages.Send)
			convs.POST("/:id/media", h.Messages.SendMedia)
			convs.POST("/:id/observe", h.Messages.Observe)
			convs.POST("/:id/open", h.Messages.Open)
			convs.POST("/:id/typing", h.Messages.Typing)
			convs.POST("/:id/messages/delete", h.Messages.BulkDelete)
			convs.PUT("/:id/messages/:msgId", h.Messages.Edit)
			convs.DELETE("/:id/messages/:msgId", h.Messages.Delete)
			convs.GET("/:id/messages/:msgId/receipts", h.Messages.Receipts)
		}

		v1.POST("/direct/:peerId/messages", h.Messages.SendDirect)

		feed := v1.Group("/feed")
		{
			feed.GET("", h.Feed.ListFeed)
			feed.POST("", h.Feed.CreatePost)
			feed.POST("/media", h.Feed.CreateMediaPost)
			feed.GET("/archive", h.Feed.ListArchive)
			feed.DELETE("/:postId", h.Feed.Delete)
			feed.POST("/:postId/like", h.Feed.ToggleLike)
			feed.GET("/:postId/comments", h.Feed.ListComments)
			feed.POST("/:postId/comments", h.Feed.AddComment)
			feed.POST("/:postId/hide", h.Feed.Hide)
			feed.POST("/:postId/restore", h.Feed.Restore)
		}

		notifications := v1.Group("/notifications")
		{
			notifications.GET("", h.Feed.ListNotifications)
			notifications.POST("/:id/read", h.Feed.MarkNotificationRead)
		}

		v1.GET("/settings", h.Account.GetSettings)
		v1.PATCH("/settings", h.Account.UpdateSettings)
		v1.POST("/push/tokens", h.Account.RegisterPushToken)
		v1.DELETE("/push/tokens", h.Account.UnregisterPushToken)
		v1.PUT("/presence", h.Account.SetPresence)
		v1.GET("/presence/:uid", h.Account.GetPresence)
	}

	return r
}
