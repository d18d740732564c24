package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sendvault/backend/internal/config"
	"github.com/sendvault/backend/internal/database"
	"github.com/sendvault/backend/internal/handlers"
	"github.com/sendvault/backend/internal/middleware"
	"github.com/sendvault/backend/internal/registry"
	"github.com/sendvault/backend/internal/storage"
	"github.com/sendvault/backend/internal/transfer"
	"github.com/sendvault/backend/pkg/logger"
	"github.com/sendvault/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureKeyWrap(cfg.Security.KeyWrapSecret)
	utils.ConfigureMaintenanceAuth(cfg.Security.MaintenanceSecret)

	reg, err := buildRegistry(cfg)
	if err != nil {
		log.Fatalf("registry initialization failed: %v", err)
	}

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		log.Fatalf("blob store initialization failed: %v", err)
	}

	service := transfer.NewService(reg, blobs, cfg.Transfer, cfg.Server.PublicBaseURL)
	stopCleanup := service.StartCleanup(cfg.Transfer.CleanupInterval)
	defer stopCleanup()

	transfersHandler := handlers.NewTransfersHandler(service)

	app := fiber.New(fiber.Config{
		BodyLimit:             int(cfg.Transfer.MaxSizeBytes) + 1024*1024,
		StreamRequestBody:     true,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	transferRoutes := api.Group("/transfers")
	transferRoutes.Post("/", transfersHandler.Create)
	transferRoutes.Get("/:id", transfersHandler.Get)
	transferRoutes.Post("/:id/validate", transfersHandler.Validate)
	transferRoutes.Get("/:id/download", transfersHandler.Download)
	transferRoutes.Get("/:id/stats", transfersHandler.Statistics)
	transferRoutes.Delete("/:id", transfersHandler.Delete)

	adminRoutes := api.Group("/admin", middleware.RequireMaintenanceToken)
	adminRoutes.Post("/cleanup", transfersHandler.Cleanup)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":             cfg.Server.Port,
		"registry_driver":  cfg.DB.Driver,
		"storage_driver":   cfg.Storage.Driver,
		"cleanup_interval": cfg.Transfer.CleanupInterval.String(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}

func buildRegistry(cfg *config.Config) (registry.Registry, error) {
	if cfg.DB.Driver == "memory" {
		return registry.NewMemoryRegistry(), nil
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}
	return registry.NewGormRegistry(db), nil
}

func buildBlobStore(cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Driver {
	case "minio":
		store, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	case "local":
		return storage.NewLocalStore(cfg.Storage.LocalDir)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
