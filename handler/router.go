package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterOptions struct {
	ServiceName    string
	AllowedOrigins []string
}

// Router builds the gin engine: tracing, correlation ids, request logs, CORS
// and the session gate ahead of every route.
func (h *Handler) Router(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if opts.ServiceName != "" {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	r.Use(CorrelationID())
	r.Use(RequestLogger(h.log))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", headerCorrelationID},
			ExposeHeaders:    []string{headerCorrelationID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(h.sessions.Gate())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/login", h.Login)
	r.GET("/auth/callback", h.AuthCallback)
	r.POST("/auth/logout", h.Logout)

	api := r.Group("/api")
	{
		api.GET("/session", h.Session)

		api.GET("/personas", h.ListPersonas)
		api.POST("/personas", h.CreatePersona)
		api.GET("/personas/:id", h.GetPersona)
		api.PATCH("/personas/:id", h.UpdatePersona)
		api.DELETE("/personas/:id", h.DeletePersona)

		api.POST("/conversations", h.StartConversation)
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id/messages", h.ConversationMessages)

		api.POST("/messages", h.PostMessage)
		api.POST("/chat", h.Chat)
	}
	return r
}
