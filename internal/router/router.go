package router

import (
	"net/http"
	"strings"

	"github.com/fixly/ticket-service/api"
	"github.com/fixly/ticket-service/internal/handler"
	"github.com/fixly/ticket-service/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

type Handlers struct {
	Health  *handler.HealthHandler
	Tickets *handler.TicketHandler
	Events  *handler.EventsHandler
}

func New(h Handlers, jwtSecret string, log *zap.Logger) http.Handler {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(log), middleware.Recovery(log))

	r.GET(paths.PathHealth, h.Health.Health)
	r.GET(paths.PathReady, h.Health.Ready)
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1", middleware.Auth(jwtSecret))
	{
		v1.GET("/events", h.Events.Stream)

		v1.POST("/tickets", h.Tickets.Create)
		v1.GET("/tickets", h.Tickets.List)
		v1.GET("/tickets/:id", h.Tickets.Get)
		v1.PATCH("/tickets/:id", h.Tickets.Update)
		v1.POST("/tickets/:id/status", h.Tickets.ChangeStatus)
		v1.POST("/tickets/:id/assign", h.Tickets.Assign)
		v1.POST("/tickets/:id/notes", h.Tickets.AddNote)
		v1.GET("/tickets/:id/history", h.Tickets.History)
		v1.GET("/tickets/:id/qr", h.Tickets.QR)
		v1.GET("/tickets/:id/events", h.Events.StreamTicket)
	}

	return r
}
