package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vibecards-backend/internal/config"
	"vibecards-backend/internal/database"
	"vibecards-backend/internal/handlers"
	"vibecards-backend/internal/middleware"
	"vibecards-backend/internal/repository"
	"vibecards-backend/internal/router"
	"vibecards-backend/internal/services"
	"vibecards-backend/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()
		return serve(cmd.Context(), cfg, log)
	},
}

type stores struct {
	decks services.DeckStore
	users services.UserStore
	ping  handlers.Pinger
	close func()
}

// openStores connects the deck and user stores selected by STORE_DRIVER and
// brings their schema up to date.
func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverGorm {
		db, err := database.OpenGorm(cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := repository.AutoMigrateGorm(db); err != nil {
			return nil, fmt.Errorf("gorm automigrate: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		log.Info("✓ gorm store ready", zap.String("dialect", db.Dialector.Name()))
		return &stores{
			decks: repository.NewGormDeckRepo(db),
			users: repository.NewGormUserRepo(db),
			ping:  handlers.PingFunc(sqlDB.PingContext),
			close: func() { sqlDB.Close() },
		}, nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	log.Info("✓ PostgreSQL connected")

	if err := database.RunMigrations(ctx, pool, log); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("✓ Database migrations applied")

	return &stores{
		decks: repository.NewDeckRepo(pool),
		users: repository.NewUserRepo(pool),
		ping:  pool,
		close: pool.Close,
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("🚀 Starting VibeCards backend", zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))

	// ──── Step 1: Storage ────
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	// ──── Step 2: Redis ────
	rdb, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer rdb.Close()
	log.Info("✓ Redis connected")

	// ──── Step 3: Gemini ────
	gemini, err := services.NewGeminiService(services.GeminiOptions{
		APIKey:         cfg.GeminiAPIKey,
		Model:          cfg.GeminiModel,
		FallbackModel:  cfg.GeminiFallbackModel,
		MaxAttempts:    cfg.GeminiMaxAttempts,
		RetryBaseDelay: cfg.GeminiRetryDelay,
		Timeout:        cfg.GeminiTimeout,
		ConcurrentReqs: cfg.GeminiConcurrentReqs,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize Gemini client: %w", err)
	}
	defer gemini.Close()
	log.Info("✓ Gemini client initialized", zap.String("model", cfg.GeminiModel), zap.String("fallback", cfg.GeminiFallbackModel))

	// ──── Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, log)
	mailPool := worker.NewPool(emailService, worker.Options{
		Workers:     cfg.MailWorkers,
		QueueSize:   cfg.MailQueueSize,
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
	}, log)
	mailPool.Start()
	defer mailPool.Stop()
	authService := services.NewAuthService(st.users, rdb, jwtAuth, mailPool, log)
	deckService := services.NewDeckService(st.decks, gemini, log)
	studyService := services.NewStudyService(deckService, repository.NewStudySessionRepo(rdb, cfg.StudySessionTTL), log)

	// ──── Handlers ────
	limiters := router.Limiters{
		Auth:     middleware.NewRateLimiter(cfg.AuthRateLimit, time.Minute),
		Generate: middleware.NewRateLimiter(cfg.GenerateRateLimit, time.Minute),
	}
	defer limiters.Auth.Stop()
	defer limiters.Generate.Stop()

	h := router.Handlers{
		Auth:  handlers.NewAuthHandler(authService),
		Decks: handlers.NewDeckHandler(deckService),
		Study: handlers.NewStudyHandler(studyService),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"database": st.ping,
			"redis":    redisPinger(rdb),
		}),
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router.New(jwtAuth, h, limiters, cfg.FrontendURL, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GeminiTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("✓ VibeCards backend ready", zap.String("addr", "http://localhost:"+cfg.Port), zap.String("api", "/api"))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func redisPinger(rdb *redis.Client) handlers.PingFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
