package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"breakout-radar/internal/bot"
	"breakout-radar/internal/cache"
	"breakout-radar/internal/config"
	"breakout-radar/internal/db"
	"breakout-radar/internal/handler"
	"breakout-radar/internal/job"
	"breakout-radar/internal/provider"
	"breakout-radar/internal/regime"
	"breakout-radar/internal/repository"
	"breakout-radar/internal/risk"
	"breakout-radar/internal/service"
	"breakout-radar/internal/setup"
	"breakout-radar/internal/state"
	"breakout-radar/internal/trigger"
	"breakout-radar/pkg/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initPostgresFunc       = db.InitPostgres
	initRedisFunc          = cache.InitRedis
	initTracerFunc         = tracing.InitTracer
	newCandleRepoFunc      = repository.NewCandleRepository
	newSignalRepoFunc      = repository.NewSignalRepository
	newEngineServiceFunc   = service.NewEngineService
	newCyclePollerFunc     = job.NewCyclePoller
	startCyclePollerFunc   = func(p *job.CyclePoller, ctx context.Context) { go p.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newHandlerFunc         = handler.New
	newRouterFunc          = gin.Default
	setupSignalNotify      = ossignal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func httpAddrFromEnv() string {
	port := os.Getenv("PORT")
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Create repositories and run migrations
	var signalRepo service.SignalStore
	var candleRepo service.CandleStore
	if db.Pool != nil {
		sr := newSignalRepoFunc(db.Pool, tracer)
		cr := newCandleRepoFunc(db.Pool, tracer)
		if err := cr.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run candle migrations: %v", err)
		}
		if err := sr.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run signal migrations: %v", err)
		}
		signalRepo = sr
		candleRepo = cr
	}

	var seriesCache service.SeriesCache
	var stateRepo service.StateStore
	if cache.Client != nil {
		seriesCache = cache.NewCandleCache(
			cache.Client,
			cfg.Interval,
			time.Duration(cfg.CandleCacheSecs)*time.Second,
			time.Duration(cfg.HTFCacheSecs)*time.Second,
		)
		stateRepo = state.NewStore(cache.Client, tracer)
	}

	// Build the signal pipeline
	market := provider.NewBybitProvider(tracer, cfg.BybitBaseURL)
	classifier := regime.NewClassifier(regime.Thresholds{
		HighVolATRPct: cfg.HighVolATRPct,
		LowVolATRPct:  cfg.LowVolATRPct,
		ChopADX:       cfg.ChopADX,
		TrendADX:      cfg.TrendADX,
	})
	setupCfg := setup.Config{
		ADXFloor:            cfg.SetupADXFloor,
		VolumeFloor:         cfg.SetupVolumeFloor,
		RSIBandLow:          cfg.SetupRSIBandLow,
		RSIBandHigh:         cfg.SetupRSIBandHigh,
		MaxDistancePct:      cfg.SetupMaxDistancePct,
		MinScore:            cfg.SetupMinScore,
		TTL:                 time.Duration(cfg.SetupTTLMins) * time.Minute,
		RequireHTFAlignment: cfg.RequireHTFAlignment,
		Weights: setup.Weights{
			Trend:     cfg.WeightTrend,
			ADX:       cfg.WeightADX,
			Volume:    cfg.WeightVolume,
			Proximity: cfg.WeightProximity,
			Pattern:   cfg.WeightPattern,
		},
	}
	triggerCfg := trigger.Config{
		BufferPct:        cfg.BreakoutBuffPct,
		Mode:             cfg.TriggerMode,
		RetestWindowBars: cfg.RetestWindowBars,
		MomentumATRMult:  cfg.MomentumATRMult,
		EntryADXFloor:    cfg.EntryADXFloor,
		EntryVolumeFloor: cfg.EntryVolumeFloor,
		MinStopPct:       cfg.MinStopPct,
		RewardRR:         cfg.RewardRR,
		SwingBars:        cfg.TriggerSwingBars,
		ATRMult:          cfg.TriggerATRMult,
	}

	engine := newEngineServiceFunc(service.Deps{
		Tracer:     tracer,
		Provider:   market,
		Cache:      seriesCache,
		Classifier: classifier,
		Generator:  setup.NewGenerator(setupCfg),
		Evaluator:  trigger.NewEvaluator(triggerCfg),
		SignalRepo: signalRepo,
		CandleRepo: candleRepo,
		StateRepo:  stateRepo,
	}, service.Options{
		Symbols:       cfg.Symbols,
		Interval:      cfg.Interval,
		HTFInterval:   cfg.HTFInterval,
		CandleLimit:   cfg.CandleLimit,
		Workers:       cfg.Workers,
		SetupCooldown: time.Duration(cfg.SetupCooldownMins) * time.Minute,
		EntryCooldown: time.Duration(cfg.EntryCooldownMins) * time.Minute,
		MinConfidence: cfg.MinConfidence,
		Leverage:      cfg.Leverage,
		PositionUSD:   cfg.PositionUSD,
		RiskTables: risk.Tables{
			SLATRMult: cfg.RiskSLATRMults,
			MinRR:     cfg.RiskMinRRs,
		},
	})
	if err := engine.Init(ctx); err != nil {
		log.Fatalf("failed to restore engine state: %v", err)
	}

	// Start Telegram bot and hook alerts into the engine
	os.Setenv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	if alerts := startTelegramBotFunc(engine, cfg.TelegramChatID); alerts != nil {
		engine.SetNotifier(alerts)
		hello := fmt.Sprintf(
			"Breakout radar online.\nSymbols: %s\nTimeframe: %s (HTF %s)\nMin confidence: %d%%\nEntry cooldown: %dm",
			strings.Join(cfg.Symbols, ", "), cfg.Interval, cfg.HTFInterval, cfg.MinConfidence, cfg.EntryCooldownMins,
		)
		if err := alerts.Broadcast(ctx, hello); err != nil {
			log.Printf("startup announcement failed: %v", err)
		}
	}

	// Start the polling loop (stopped by ctx cancel)
	poller := newCyclePollerFunc(tracer, engine, time.Duration(cfg.PollSecs)*time.Second)
	startCyclePollerFunc(poller, ctx)

	// Create handlers and routes
	h := newHandlerFunc(tracer, engine)

	r := newRouterFunc()
	r.Use(cors.Default())
	r.Use(otelgin.Middleware("breakout-radar"))
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    httpAddrFromEnv(),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
