package server

import (
	"github.com/tripsphere/backend/internal/server/middleware"
	"github.com/tripsphere/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Review intake routes
	apiRoutes.POST("/reviews", routes.CreateReviewHandler)
	apiRoutes.PUT("/reviews/:id", routes.UpdateReviewHandler)
	apiRoutes.DELETE("/reviews/:id", routes.DeleteReviewHandler)

	// Index routes
	apiRoutes.POST("/indices", routes.CreateIndexHandler)
	apiRoutes.GET("/indices/:task_id", routes.GetIndexStatusHandler)
	apiRoutes.DELETE("/indices/:target_id", routes.DeleteIndexHandler)

	// Conversation routes
	apiRoutes.POST("/conversations", routes.CreateConversationHandler)
	apiRoutes.GET("/conversations", routes.GetConversationsHandler)
	apiRoutes.POST("/conversations/:id/messages", routes.PostMessageHandler)
	apiRoutes.GET("/conversations/:id/messages", routes.GetMessagesHandler)
	apiRoutes.GET("/messages/:id", routes.GetMessageHandler)
}
