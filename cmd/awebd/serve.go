package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/awebhq/aweb/internal/api"
	"github.com/awebhq/aweb/internal/api/authapi"
	"github.com/awebhq/aweb/internal/auth"
	"github.com/awebhq/aweb/internal/bootstrap"
	bootstraphttp "github.com/awebhq/aweb/internal/bootstrap/httpapi"
	chathttp "github.com/awebhq/aweb/internal/chat/httpapi"
	chatrepo "github.com/awebhq/aweb/internal/chat/repository"
	chatservice "github.com/awebhq/aweb/internal/chat/service"
	"github.com/awebhq/aweb/internal/common/config"
	"github.com/awebhq/aweb/internal/common/database"
	"github.com/awebhq/aweb/internal/common/logger"
	contactshttp "github.com/awebhq/aweb/internal/contacts/httpapi"
	contactsrepo "github.com/awebhq/aweb/internal/contacts/repository"
	contactsservice "github.com/awebhq/aweb/internal/contacts/service"
	conversationshttp "github.com/awebhq/aweb/internal/conversations/httpapi"
	conversationsrepo "github.com/awebhq/aweb/internal/conversations/repository"
	conversationsservice "github.com/awebhq/aweb/internal/conversations/service"
	"github.com/awebhq/aweb/internal/events"
	"github.com/awebhq/aweb/internal/hooks"
	identityhttp "github.com/awebhq/aweb/internal/identity/httpapi"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
	identityservice "github.com/awebhq/aweb/internal/identity/service"
	mailhttp "github.com/awebhq/aweb/internal/mail/httpapi"
	mailrepo "github.com/awebhq/aweb/internal/mail/repository"
	mailservice "github.com/awebhq/aweb/internal/mail/service"
	"github.com/awebhq/aweb/internal/migrations"
	"github.com/awebhq/aweb/internal/observability/tracing"
	"github.com/awebhq/aweb/internal/presence"
	reservationhttp "github.com/awebhq/aweb/internal/reservation/httpapi"
	reservationrepo "github.com/awebhq/aweb/internal/reservation/repository"
	reservationservice "github.com/awebhq/aweb/internal/reservation/service"
	tenantrepo "github.com/awebhq/aweb/internal/tenant/repository"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

var configPath string

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the aweb API server",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a config file (defaults to env-only configuration)")
	return cmd
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting awebd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer func() { _ = busCleanup() }()
	if providedBus.NATS != nil {
		log.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("using in-memory event bus")
	}

	db, err := database.NewDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	sqlxReader, err := database.NewSQLXReader(cfg.Database)
	if err != nil {
		return fmt.Errorf("open sqlx reader pool: %w", err)
	}
	defer sqlxReader.Close()

	if err := runMigrations(sqlxReader.DB); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	masterKey, err := cfg.Custody.MasterKey()
	if err != nil {
		return fmt.Errorf("load custody master key: %w", err)
	}
	if masterKey == nil {
		log.Warn("custody master key not configured; seed custody is disabled")
	}

	waitingIndex := presence.Provide(cfg.Redis, log)
	defer waitingIndex.Close()

	pool := db.Pool()

	tenantSvc := tenantservice.New(tenantrepo.NewPostgresRepository(pool), log)

	hookDispatcher := hooks.New(nil, providedBus.Bus, cfg.Events.Namespace, log)

	identityRepo := identityrepo.NewPostgresRepository(db, pool)
	identitySvc := identityservice.New(identityRepo, tenantSvc, masterKey, hookDispatcher, log)

	contactsSvc := contactsservice.New(contactsrepo.NewPostgresRepository(pool), identityRepo, tenantSvc, log)

	mailSvc := mailservice.New(mailrepo.NewPostgresRepository(pool), identityRepo, identitySvc, tenantSvc, contactsSvc, hookDispatcher, log)

	chatSvc := chatservice.New(chatrepo.NewPostgresRepository(pool), identityRepo, identitySvc, tenantSvc, waitingIndex, hookDispatcher, log)

	reservationSvc := reservationservice.New(reservationrepo.NewPostgresRepository(db, pool), hookDispatcher, log)

	conversationsSvc := conversationsservice.New(conversationsrepo.NewSQLXRepository(sqlxReader))

	bootstrapSvc := bootstrap.New(identityRepo, identitySvc, tenantSvc, log)

	var resolver auth.Resolver
	if cfg.Auth.TrustProxyHeaders {
		proxyResolver, err := auth.NewProxyResolver(cfg.Auth.ProxySecret)
		if err != nil {
			return fmt.Errorf("configure proxy auth: %w", err)
		}
		resolver = proxyResolver
	} else {
		resolver = auth.NewDirectResolver(identityRepo)
	}

	router := api.Build(resolver, log, api.Handlers{
		Bootstrap:     bootstraphttp.NewHandlers(bootstrapSvc, log),
		Auth:          authapi.NewHandlers(identityRepo, tenantSvc, log),
		Identity:      identityhttp.NewHandlers(identitySvc, tenantSvc, waitingIndex, cfg.Server.PublicURL, log),
		Mail:          mailhttp.NewHandlers(mailSvc, identityRepo, tenantSvc, log),
		Chat:          chathttp.NewHandlers(chatSvc, identityRepo, waitingIndex, log),
		Reservation:   reservationhttp.NewHandlers(reservationSvc, identityRepo, log),
		Contacts:      contactshttp.NewHandlers(contactsSvc, log),
		Conversations: conversationshttp.NewHandlers(conversationsSvc, log),
	})

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("awebd listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down awebd")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	log.Info("awebd stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadWithPath(configPath)
	}
	return config.Load()
}

func runMigrations(db *sql.DB) error {
	return migrations.Migrate(db)
}
