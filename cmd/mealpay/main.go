package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.opentelemetry.io/otel"

	"github.com/ManuelReschke/MealPay/app/controllers"
	"github.com/ManuelReschke/MealPay/internal/pkg/bootstrap"
	"github.com/ManuelReschke/MealPay/internal/pkg/config"
	"github.com/ManuelReschke/MealPay/internal/pkg/env"
	"github.com/ManuelReschke/MealPay/internal/pkg/router"
	"github.com/ManuelReschke/MealPay/internal/pkg/telemetry"
)

func main() {
	if path := env.SetupEnvFile(); path != "" {
		log.Infof("[MealPay] Loaded environment from %s", path)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal(err)
	}

	services, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	services.StartRetries()

	app := NewApplication(services)
	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			log.Errorf("[MealPay] Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("[MealPay] Shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("[MealPay] Shutdown error: %v", err)
	}
	if err := services.Close(); err != nil {
		log.Errorf("[MealPay] Close error: %v", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Errorf("[MealPay] Tracing shutdown error: %v", err)
	}
}

func NewApplication(s *bootstrap.Services) *fiber.App {
	cfg := s.Config

	app := fiber.New(fiber.Config{
		AppName:   "MealPay",
		BodyLimit: cfg.App.BodyLimit,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())
	app.Use(telemetry.Middleware(otel.GetTracerProvider()))

	// SWAGGER / OPENAPI
	if _, err := os.Stat("public/docs/v1/openapi.yml"); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	}

	router.InstallRouter(app,
		router.NewOpsRouter(s.Registry, s.Checks),
		router.NewWebhookRouter(
			controllers.NewWebhookController(s.Orchestrator, cfg.Webhook.SignatureHeader, cfg.Webhook.EventIDHeader),
			controllers.NewAdminWebhookController(s.Orchestrator),
			cfg.App.AdminUsers(),
		),
	)
	return app
}
