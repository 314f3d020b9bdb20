package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	api "github.com/sabi-money/sabi-server/internal/api/http"
	"github.com/sabi-money/sabi-server/internal/backoff"
	"github.com/sabi-money/sabi-server/internal/config"
	"github.com/sabi-money/sabi-server/internal/logger"
	"github.com/sabi-money/sabi-server/internal/messaging/relay"
	"github.com/sabi-money/sabi-server/internal/provider/breez"
	"github.com/sabi-money/sabi-server/internal/repository/postgres"
	"github.com/sabi-money/sabi-server/internal/sealbox"
	"github.com/sabi-money/sabi-server/internal/service"
	storage "github.com/sabi-money/sabi-server/internal/storage/minio"
	"github.com/sabi-money/sabi-server/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)

	coordinatorKey, err := sealbox.ParsePrivateKey(cfg.Relay.CoordinatorKey)
	if err != nil {
		logger.Fatal("failed to parse coordinator key", "error", err)
	}
	coordinatorPub, err := coordinatorKey.Public()
	if err != nil {
		logger.Fatal("failed to derive coordinator public key", "error", err)
	}

	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to initialize storage", "error", err)
	}
	defer db.Close()

	walletRepo := postgres.NewWalletRepository(db)
	attemptRepo := postgres.NewAttemptRepository(db)
	recoveryRepo := postgres.NewRecoveryRepository(db)
	shareRepo := postgres.NewShareRepository(db)
	eventRepo := postgres.NewEventRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	tokenManager := token.NewJWT(cfg.JWT.Secret)

	minioClient, err := minio.New(cfg.Archive.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Archive.AccessKey, cfg.Archive.SecretKey, ""),
		Secure: cfg.Archive.UseSSL,
	})
	if err != nil {
		logger.Fatal("failed to create minio client", "error", err)
	}
	archive, err := storage.NewArchive(ctx, minioClient, cfg.Archive.Bucket)
	if err != nil {
		logger.Fatal("failed to initialize payload archive", "error", err)
	}

	provider := breez.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
	gateway := relay.NewGateway(cfg.Relay.URL, coordinatorPub.String(), logger)

	policy := backoff.NewPolicy(cfg.Provider.MaxAttempts, cfg.Provider.BaseDelay)
	provisioning := service.NewProvisioning(walletRepo, attemptRepo, provider, policy, cfg.Provider.MinInboundSats, logger)
	recovery := service.NewRecovery(
		walletRepo, recoveryRepo, shareRepo, gateway, tokenManager,
		coordinatorKey, cfg.Recovery.RequestTTL, cfg.Recovery.ClaimTTL, logger,
	)
	reconciler := service.NewReconciler(walletRepo, eventRepo, transactionRepo, archive, provisioning, logger)

	handler := api.NewHandler(provisioning, recovery, reconciler, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTP.Port),
		Handler: api.NewRouter(handler),
	}

	sweeper := service.NewSweeper(recovery, cfg.Recovery.SweepInterval, cfg.Recovery.SweepBatch, logger)
	consumer := service.NewShareConsumer(gateway, recovery, coordinatorPub, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("relay consumer stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", err)
		}
	}()

	logAppVersion()

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err)
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
