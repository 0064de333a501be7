package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ksred/klear-confirm/internal/auth"
	"github.com/ksred/klear-confirm/internal/config"
	"github.com/ksred/klear-confirm/internal/database"
	"github.com/ksred/klear-confirm/internal/entity"
	"github.com/ksred/klear-confirm/internal/extractor"
	"github.com/ksred/klear-confirm/internal/ledger"
	"github.com/ksred/klear-confirm/internal/mailbox"
	"github.com/ksred/klear-confirm/internal/poller"
	"github.com/ksred/klear-confirm/internal/reconcile"
	"github.com/ksred/klear-confirm/internal/repository"
	"github.com/ksred/klear-confirm/internal/scheduler"
	"github.com/ksred/klear-confirm/internal/store"
	"github.com/ksred/klear-confirm/internal/types"
	"github.com/ksred/klear-confirm/pkg/logger"
	"github.com/ksred/klear-confirm/pkg/middleware"
)

// main wires the confirmation service and runs it until SIGINT or SIGTERM
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Pretty: true})
		bootLog.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: !cfg.IsProduction(),
		Entity: cfg.MyEntity,
	})
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer database.Close(db)

	// File stores
	matches, err := store.NewJSONStore[types.EmailMatchRecord](cfg.MatchesFile, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open match ledger")
	}
	identified, err := store.NewJSONStore[types.IdentifiedTradeRecord](cfg.IdentifiedFile, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open identified-trade log")
	}

	trades, err := repository.New(cfg.TradesFile, log)
	if err != nil {
		log.Warn().Err(err).Str("file", cfg.TradesFile).Msg("Starting with an empty trade repository")
	}
	directory := entity.NewDirectory(cfg.EntitiesFile, log)

	// Services and handlers
	engine := reconcile.NewEngine(trades, identified, matches, log,
		reconcile.WithIdentificationLog(reconcile.NewDatabase(db)))

	ledgerService := ledger.NewService(matches, identified, ledger.NewDatabase(db), log)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	authService := auth.NewService(cfg.JWTSecret)
	if cfg.APIKey != "" {
		authService.RegisterAPICredentials(cfg.APIKey, cfg.APISecret)
	} else {
		log.Warn().Msg("API_KEY not set, no operator can obtain a token")
	}
	authHandlers := auth.NewGinHandlers(authService)

	processor, err := newProcessor(cfg, engine, directory, trades, db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize poller")
	}
	pollerHandlers := poller.NewGinHandlers(processor)

	// Polling runs on a schedule; a cycle in progress is never overlapped
	sched := scheduler.New(log)
	if err := sched.Every(cfg.PollInterval, scheduler.JobFunc{
		JobName: "poll_mailbox",
		Fn: func(ctx context.Context) error {
			_, err := processor.RunCycle(ctx)
			return err
		},
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule poller")
	}
	sched.Start()

	limiter := middleware.NewLimiter(5)
	limiterCtx, limiterCancel := context.WithCancel(context.Background())
	defer limiterCancel()
	go limiter.Run(limiterCtx)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))
	setupRoutes(router, authService, limiter, authHandlers, ledgerHandlers, pollerHandlers)

	srv := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Port),
		Handler: cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		})(router),
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	// Stop polling first; a running cycle completes
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}

func newProcessor(
	cfg *config.Config,
	engine *reconcile.Engine,
	directory *entity.Directory,
	trades *repository.Repository,
	db *gorm.DB,
	log zerolog.Logger,
) (*poller.Processor, error) {
	mb, err := mailbox.NewDir(cfg.MailboxDir, cfg.MailboxFolder, log)
	if err != nil {
		return nil, err
	}

	var ex extractor.Extractor
	switch cfg.ExtractorMode {
	case config.ExtractorReplay:
		ex = extractor.NewReplay(mb.Path())
	default:
		ex = extractor.NewClient(cfg.ExtractorURL, cfg.ExtractorTimeout, log)
	}

	return poller.NewProcessor(
		mb,
		mailbox.NewDisposition(mb, cfg.NonConfirmationPolicy, cfg.NotRelevantFolder),
		ex,
		directory,
		engine,
		poller.NewDatabase(db),
		poller.Config{MyEntity: cfg.MyEntity, ExtractTimeout: cfg.ExtractorTimeout},
		log,
		trades,
		directory,
	), nil
}

// setupRoutes configures all API endpoints:
// - Auth routes: public token issue, rate limited per IP
// - Ledger routes: reads and status operations, JWT protected, rate limited per client
// - Internal routes: manual polling trigger, JWT protected, rate limited per client
func setupRoutes(
	router *gin.Engine,
	tokens middleware.TokenValidator,
	limiter *middleware.Limiter,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	pollerHandlers *poller.GinHandlers,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(limiter.RateLimit())
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		ledger := v1.Group("/ledger")
		ledger.Use(middleware.JWTAuth(tokens), limiter.RateLimit())
		{
			ledger.GET("/matches", ledgerHandlers.MatchesHandler())
			ledger.GET("/identified", ledgerHandlers.IdentifiedHandler())
			ledger.GET("/history/:trade_id", ledgerHandlers.HistoryHandler())
			ledger.POST("/status", ledgerHandlers.UpdateStatusHandler())
			ledger.POST("/undo", ledgerHandlers.UndoStatusHandler())
			ledger.POST("/clear", ledgerHandlers.ClearStoreHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.JWTAuth(tokens), limiter.RateLimit())
		{
			internal.POST("/poll", pollerHandlers.PollHandler())
		}
	}
}
