package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/ManuelReschke/MealPay/app/controllers"
)

const WebhookPath = "/webhooks/payments"

// WebhookRouter mounts the provider webhook and, when admin credentials are
// configured, the failed event endpoints.
type WebhookRouter struct {
	webhook    *controllers.WebhookController
	admin      *controllers.AdminWebhookController
	adminUsers map[string]string
}

func NewWebhookRouter(webhook *controllers.WebhookController, admin *controllers.AdminWebhookController, adminUsers map[string]string) *WebhookRouter {
	return &WebhookRouter{webhook: webhook, admin: admin, adminUsers: adminUsers}
}

func (w *WebhookRouter) InstallRouter(app *fiber.App) {
	app.All(WebhookPath, w.webhook.HandlePaymentWebhook)

	if w.admin == nil || len(w.adminUsers) == 0 {
		return
	}
	admin := app.Group("/admin/webhooks", basicauth.New(basicauth.Config{
		Users: w.adminUsers,
	}))
	admin.Get("/failed", w.admin.HandleListFailed)
	admin.Post("/:id/reprocess", w.admin.HandleReprocess)
}
