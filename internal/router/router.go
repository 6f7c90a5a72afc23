package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/boostcampwm-2022/web24-Asniti/internal/config"
	"github.com/boostcampwm-2022/web24-Asniti/internal/handler"
	"github.com/boostcampwm-2022/web24-Asniti/internal/middleware"
	"github.com/boostcampwm-2022/web24-Asniti/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler   *handler.ChatHandler
	UploadHandler *handler.UploadHandler
	JWTMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	channels := api.Group("/channels", jwtMiddleware)
	if deps.ChatHandler != nil {
		realtime := api.Group("/chat", jwtMiddleware)
		deps.ChatHandler.Register(channels, realtime)
	}
	if deps.UploadHandler != nil {
		channels.Use("/:channelId/attachments", middleware.RateLimit("attachments", 20, time.Minute))
		deps.UploadHandler.Register(channels)
	}
}
