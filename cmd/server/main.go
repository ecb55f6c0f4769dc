package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	apihttp "clipstudio/internal/api/http"
	"clipstudio/internal/app"
	"clipstudio/internal/audio/clocktrack"
	"clipstudio/internal/backend"
	"clipstudio/internal/domain"
	"clipstudio/internal/domain/ports"
	"clipstudio/internal/loop"
	"clipstudio/internal/media"
	"clipstudio/internal/media/ffprobe"
	"clipstudio/internal/metrics"
	"clipstudio/internal/preview"
	mongorepo "clipstudio/internal/repository/mongo"
	"clipstudio/internal/telemetry"
)

const serviceName = "preview-agent"

func main() {
	loadedEnv, envErr := app.LoadEnvFile()
	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn("env file load failed", slog.String("error", envErr.Error()))
	}
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.Bool("envFile", loadedEnv),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("backendURL", cfg.BackendURL),
		slog.String("logLevel", cfg.LogLevel),
		slog.Bool("mongo", cfg.MongoURI != ""),
		slog.Bool("redis", cfg.RedisAddr != ""),
		slog.Duration("tick", cfg.TickInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sessions ports.SessionStore
	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		mongoClient, err = connectMongo(rootCtx, cfg.MongoURI)
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sessions = mongorepo.NewSessionRepository(mongoClient, cfg.MongoDatabase)
	}

	client := backend.NewClient(backend.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
		RPS:     cfg.BackendRPS,
		Burst:   cfg.BackendBurst,
		Logger:  logger.With(slog.String("component", "backend")),
	})
	wsURL := cfg.BackendWSURL
	if wsURL == "" {
		wsURL = backend.WSURLFromHTTP(cfg.BackendURL)
	}
	events := backend.NewEventSource(wsURL, logger.With(slog.String("component", "events")))

	var music ports.MusicLibrary = client
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		music = backend.NewCachedMusicLibrary(client, redisClient, cfg.MusicCacheTTL, logger)
	}

	prober := media.NewCachedProber(
		media.NewWAVProber(&http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
		ffprobe.New(cfg.FFProbePath),
		cfg.ProbeCacheSize,
		cfg.ProbeCacheTTL,
		logger.With(slog.String("component", "probe")),
	)

	hub := apihttp.NewHub(logger.With(slog.String("component", "ws")))
	eventLoop := loop.New(logger.With(slog.String("component", "loop")))
	orch := preview.New(eventLoop, preview.Deps{
		API:       client,
		Events:    events,
		Sessions:  sessions,
		Music:     music,
		Opener:    clocktrack.NewOpener(prober, logger.With(slog.String("component", "audio"))),
		Resolver:  media.NewResolver(cfg.BackendURL),
		Publisher: hub,
		Logger:    logger,
	}, preview.Options{
		TickInterval:       cfg.TickInterval,
		TransitionDuration: cfg.TransitionDuration,
		SettingsDebounce:   cfg.SettingsDebounce,
	})

	handler := apihttp.NewServer(orch,
		apihttp.WithLogger(logger),
		apihttp.WithHub(hub),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.ControlRPS, cfg.ControlBurst),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	// The loop is stopped explicitly once the preview has been closed.
	g.Go(func() error {
		return eventLoop.Run(context.Background())
	})
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		logger.Info("server started", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		restoreProject(gctx, orch, sessions, cfg, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", slog.String("error", err.Error()))
		}
		if err := orch.Close(shutdownCtx); err != nil && !errors.Is(err, loop.ErrStopped) {
			logger.Warn("preview close error", slog.String("error", err.Error()))
		}
		eventLoop.Stop()
		hub.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("preview agent failed", slog.String("error", err.Error()))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", slog.String("error", err.Error()))
		}
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}
	logger.Info("server stopped")
}

func connectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongorepo.Connect(ctx, uri, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// restoreProject reopens the project named in the config, or the one the
// previous run was previewing.
func restoreProject(ctx context.Context, orch *preview.Orchestrator, sessions ports.SessionStore, cfg app.Config, logger *slog.Logger) {
	id := domain.ProjectID(cfg.ProjectID)
	if id == "" && cfg.ResumeSession && sessions != nil {
		stored, ok, err := sessions.GetCurrentProjectID(ctx)
		if err != nil {
			logger.Warn("session load failed", slog.String("error", err.Error()))
			return
		}
		if ok {
			id = stored
		}
	}
	if id == "" {
		return
	}
	if err := orch.Resume(ctx, id); err != nil {
		logger.Warn("project restore failed",
			slog.String("projectId", string(id)),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("project restored", slog.String("projectId", string(id)))
}
