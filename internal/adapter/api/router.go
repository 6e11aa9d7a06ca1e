package api

import (
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(app *fiber.App, chat *ChatHandler, merchant *MerchantHandler, gatherer prometheus.Gatherer, env string) {
	// Middleware
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "healthy",
			"version": os.Getenv("APP_VERSION"),
			"env":     env,
		})
	})
	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api", allowAnyOrigin)

	// Storefront widget
	api.All("/chat", chat.HandleChat)
	api.All("/chat/stream", chat.HandleChatStream)

	// Merchant admin
	api.Get("/credits", merchant.GetCredits)
	api.Post("/credits", merchant.PostCredits)
	api.Post("/sessions/:sessionId/handoff", merchant.SetHandoff)
	api.Get("/sessions/:sessionId/live", merchant.LiveSession)
	api.Put("/products", merchant.SyncProducts)
	api.Post("/knowledge", merchant.IndexKnowledge)
	api.Put("/assistant-settings", merchant.SaveAssistantSettings)
}
