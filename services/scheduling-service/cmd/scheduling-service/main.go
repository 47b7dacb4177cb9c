package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/documed/documed/libs/config"
	"github.com/documed/documed/libs/db"
	"github.com/documed/documed/libs/httpx"
	"github.com/documed/documed/libs/kafkax"
	otelx "github.com/documed/documed/libs/otel"
	"github.com/documed/documed/libs/runtime"
	"github.com/documed/documed/services/scheduling-service/internal/consumer"
	"github.com/documed/documed/services/scheduling-service/internal/feed"
	"github.com/documed/documed/services/scheduling-service/internal/handlers"
	"github.com/documed/documed/services/scheduling-service/internal/inbox"
	"github.com/documed/documed/services/scheduling-service/internal/model"
	"github.com/documed/documed/services/scheduling-service/internal/outbox"
	"github.com/documed/documed/services/scheduling-service/internal/profile"
	"github.com/documed/documed/services/scheduling-service/internal/scheduling"
	"github.com/documed/documed/services/scheduling-service/internal/storage"
	"github.com/documed/documed/services/scheduling-service/internal/sweep"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
	}

	outboxRepo := outbox.NewRepository()
	apptRepo := storage.NewAppointmentRepository(pool, outboxRepo, logger)
	refRepo := storage.NewReferenceRepository(pool)

	profileSource, err := profile.NewSource(config.String("PROFILE_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("profile source init failed; using local replica only", "err", err)
		profileSource = nil
	}
	refs := profile.NewResolver(refRepo, profileSource, logger)

	notifier := feed.NewNotifier(rdb, logger)
	liveFeed := feed.New(rdb, logger)

	svc := scheduling.NewService(apptRepo, refs, notifier, logger)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	sweeper := sweep.New(apptRepo, notifier, logger, sweep.Config{
		Interval:  config.Seconds("SWEEP_INTERVAL_SECONDS", time.Minute),
		BatchSize: config.Int("SWEEP_BATCH_SIZE", 100),
	})
	go sweeper.Run(ctx)

	// Provider profiles are kept fresh by consuming the profile service's
	// update events into the local replica.
	if topic := strings.TrimSpace(config.String("KAFKA_PROFILE_TOPIC", "profile.provider.updated.v1")); topic != "" && kafkaBrokers != "" {
		inboxRepo := inbox.NewRepository(pool)
		profileConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: kafkaBrokers,
			GroupID: config.String("KAFKA_GROUP_ID", "scheduling-service"),
			Topic:   topic,
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				ProviderID   string `json:"provider_id"`
				DisplayName  string `json:"display_name"`
				Surname      string `json:"surname"`
				Specialty    string `json:"specialty"`
				PhotoURL     string `json:"photo_url"`
				Timezone     string `json:"timezone"`
				WorkingHours []struct {
					Weekday     int  `json:"weekday"`
					StartMinute int  `json:"start_minute"`
					EndMinute   int  `json:"end_minute"`
					BreakStart  *int `json:"break_start"`
					BreakEnd    *int `json:"break_end"`
				} `json:"working_hours"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid profile event payload", "err", err, "topic", msg.Topic)
				return nil
			}
			if payload.ProviderID == "" {
				logger.Error("profile event missing provider_id", "topic", msg.Topic)
				return nil
			}

			p := model.Provider{
				ID:          payload.ProviderID,
				DisplayName: payload.DisplayName,
				Surname:     payload.Surname,
				Specialty:   payload.Specialty,
				PhotoURL:    payload.PhotoURL,
				Timezone:    payload.Timezone,
			}
			if len(payload.WorkingHours) > 0 {
				p.WorkingHours = model.WorkingHours{}
				for _, h := range payload.WorkingHours {
					day := model.DayHours{Start: model.Minute(h.StartMinute), End: model.Minute(h.EndMinute)}
					if h.BreakStart != nil && h.BreakEnd != nil {
						day.Break = &model.Window{Start: model.Minute(*h.BreakStart), End: model.Minute(*h.BreakEnd)}
					}
					p.WorkingHours[time.Weekday(h.Weekday)] = day
				}
			}
			return refRepo.UpsertProvider(ctx, p)
		})
		go profileConsumer.Run(ctx)
	}

	if err := startGrpcServer(ctx, logger, apptRepo, refRepo); err != nil {
		logger.Error("grpc server init failed", "err", err)
	}

	apptHandler := handlers.NewAppointmentHandler(svc, logger)
	feedHandler := handlers.NewFeedHandler(liveFeed, svc, logger)
	identity := handlers.WithIdentity(jwtSecret)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/appointments/request", apptHandler.Request)
	api.HandleFunc("/api/v1/appointments/transition", apptHandler.Transition)
	api.HandleFunc("/api/v1/appointments", apptHandler.Agenda)
	api.HandleFunc("/api/v1/appointments/detail", apptHandler.Detail)
	api.HandleFunc("/api/v1/slots", apptHandler.Slots)
	mux.Handle("/api/v1/", httpx.Chain(identity(api),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20))),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 10*time.Second)),
	))
	// The feed is long-lived and must flush, so it stays outside the
	// timeout handler.
	mux.Handle("/api/v1/feed", identity(http.HandlerFunc(feedHandler.Stream)))

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var rateLimitMW httpx.Middleware
	if rdb != nil {
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			AllowCredentials: isTruthy(config.String("CORS_ALLOW_CREDENTIALS", "false")),
			MaxAge:           config.Seconds("CORS_MAX_AGE_SECONDS", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
