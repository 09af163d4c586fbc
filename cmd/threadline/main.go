package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/znz-systems/threadline/internal/blob"
	"github.com/znz-systems/threadline/internal/config"
	"github.com/znz-systems/threadline/internal/database"
	"github.com/znz-systems/threadline/internal/inbound"
	"github.com/znz-systems/threadline/internal/mail"
	"github.com/znz-systems/threadline/internal/ratelimit"
	"github.com/znz-systems/threadline/internal/store/postgres"
	"github.com/znz-systems/threadline/internal/thread"
	"github.com/znz-systems/threadline/internal/web"
	"github.com/znz-systems/threadline/internal/web/handlers"
	"github.com/znz-systems/threadline/migrations"
)

func main() {
	// Missing .env is fine; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := postgres.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Migrations
	if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Stores
	emailStore := postgres.NewEmailStore(db)
	accountStore := postgres.NewAccountStore(db)
	jobStore := postgres.NewIngestJobStore(db)

	// Blob storage
	blobs, err := blob.NewFromConfig(ctx, blob.Config{
		Backend:           cfg.BlobBackend,
		FSRoot:            cfg.BlobFSRoot,
		S3Bucket:          cfg.S3Bucket,
		S3Region:          cfg.S3Region,
		S3Endpoint:        cfg.S3Endpoint,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3ForcePathStyle:  cfg.S3ForcePathStyle,
	})
	if err != nil {
		slog.Error("failed to set up blob storage", "error", err)
		os.Exit(1)
	}

	// Services
	resolver := thread.NewResolver(emailStore, accountStore, thread.ResolverOptions{
		MaxInsertAttempts: cfg.TokenInsertAttempts,
	})
	ingestService := inbound.NewService(resolver, emailStore, blobs)

	var transport mail.Transport
	if cfg.SMTPEnabled {
		transport = mail.NewSMTPClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	} else {
		transport = mail.NoopTransport{}
	}
	outboundService := mail.NewService(resolver, emailStore, blobs, transport)

	// Ingest worker
	worker := inbound.NewWorker(jobStore, ingestService, inbound.WorkerOptions{
		PollInterval:       cfg.IngestPollInterval,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	})
	go worker.Run(ctx)

	// Inbound SMTP server
	if cfg.InboundSMTPEnabled {
		smtpSrv := inbound.NewServer(cfg.InboundSMTPAddr, cfg.InboundSMTPDomain, jobStore, cfg.IngestMaxAttempts)
		go func() {
			if err := smtpSrv.Start(); err != nil {
				slog.Error("inbound SMTP server error", "error", err)
			}
		}()
		defer smtpSrv.Shutdown()
	}

	// Rate limiter
	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Handlers
	emailHandler := handlers.NewEmailHandler(emailStore, outboundService, cfg.MaxBodyBytes)
	inboundAPIHandler := handlers.NewInboundAPIHandler(jobStore, cfg.MaxBodyBytes, cfg.IngestMaxAttempts)

	// Router
	router := web.NewRouter(web.RouterDeps{
		EmailHandler:      emailHandler,
		InboundAPIHandler: inboundAPIHandler,
		Limiter:           limiter,
		APIKeyHash:        cfg.APIKeyHash,
		DB:                db,
	})

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("Threadline starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
