package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"forfar/internal/api/handlers"
	"forfar/internal/api/middleware"
	"forfar/internal/blob"
	"forfar/internal/config"
	"forfar/internal/core"
	"forfar/internal/db"
	"forfar/internal/render"
	"forfar/internal/retention"
	"forfar/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("server stopped with error: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	blobs, err := blob.NewStore(cfg.Blob.Path)
	if err != nil {
		return err
	}

	renderer, err := render.NewService(cfg.Render.ServiceURL, cfg.Render.Timeout)
	if err != nil {
		return err
	}

	sender := webhook.NewSender(&cfg.Webhooks)
	sender.Start()
	defer sender.Stop()

	queue := core.NewQueue(core.NewRenderHandler(renderer, blobs), sender, &cfg.Queue)
	if err := queue.Start(); err != nil {
		return fmt.Errorf("failed to start render queue: %w", err)
	}
	defer queue.Stop()

	intake := core.NewIntake(queue)

	archiver, err := retention.NewArchiver(db.GetDB(), blobs, &cfg.Retention)
	if err != nil {
		return fmt.Errorf("failed to initialize retention: %w", err)
	}
	if cfg.Retention.Enabled {
		archiver.Start()
		defer archiver.Stop()
	}

	auth, err := middleware.NewAuthMiddleware()
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	handlers.NewCheckHandler(intake, blobs, sender).RegisterRoutes(router)

	api := router.Group("/api")
	auth.RegisterRoutes(api)

	admin := api.Group("", auth.RequireAuth())
	handlers.NewPrinterHandler().RegisterRoutes(admin)
	handlers.NewJobHandler(queue).RegisterRoutes(admin)
	handlers.NewWebhookHandler().RegisterRoutes(admin)
	handlers.NewRetentionHandler(archiver).RegisterRoutes(admin)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
