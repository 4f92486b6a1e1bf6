package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/api"
	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/config"
	"github.com/fathima-sithara/messaging-service/internal/events"
	"github.com/fathima-sithara/messaging-service/internal/hub"
	"github.com/fathima-sithara/messaging-service/internal/logger"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/presence"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/fathima-sithara/messaging-service/internal/storage"
	"github.com/fathima-sithara/messaging-service/internal/ws"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Development(), cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Mongo
	mc, err := repository.Connect(ctx, cfg.Mongo.URI, cfg.MongoTimeout)
	if err != nil {
		log.Fatal("mongo connect", zap.Error(err))
	}
	store, err := repository.NewMongoStore(ctx, mc.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection), cfg.MongoTimeout)
	if err != nil {
		log.Fatal("mongo store", zap.Error(err))
	}

	// presence, mirrored to Redis when configured
	var popts []presence.Option
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, presence mirror disabled", zap.Error(err))
			_ = rdb.Close()
		} else {
			popts = append(popts, presence.WithMirror(presence.NewRedisMirror(rdb, cfg.Redis.Prefix, 0)))
		}
	}
	registry := presence.NewRegistry(log, popts...)

	broker, err := newPublisher(cfg)
	if err != nil {
		log.Fatal("events init", zap.Error(err))
	}
	publisher := events.NewAsync(broker, cfg.Events.Buffer, eventTimeout, log, m)

	var blobs storage.BlobStore
	if cfg.AWS.Bucket != "" {
		backend, err := storage.NewS3Backend(ctx, storage.S3Options{
			Region:     cfg.AWS.Region,
			Bucket:     cfg.AWS.Bucket,
			Endpoint:   cfg.AWS.Endpoint,
			PublicRead: cfg.S3.PublicRead,
			PresignTTL: cfg.PresignTTL,
		})
		if err != nil {
			log.Fatal("s3 init", zap.Error(err))
		}
		blobs = storage.NewGateway(backend, storage.BreakerSettings{
			MaxFailures: cfg.S3.BreakerFailures,
			Timeout:     cfg.BreakerTimeout,
		}, log, m)
	} else {
		log.Warn("aws.bucket not set, attachment uploads are disabled")
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		log.Fatal("jwt init", zap.Error(err))
	}

	msgs := service.NewMessageService(service.Deps{
		Store:    store,
		Presence: registry,
		Blobs:    blobs,
		Events:   publisher,
		Log:      log,
		Metrics:  m,
	})
	dir := service.NewDirectoryService(store)

	rt := ws.NewServer(ws.Deps{
		Messages:  msgs,
		Directory: dir,
		Presence:  registry,
		Hub:       hub.New(log, m),
		Verifier:  verifier,
		Log:       log,
		Metrics:   m,
	}, ws.Config{
		PingInterval:    cfg.PingInterval,
		WriteDeadline:   cfg.WriteDeadline,
		PongWait:        cfg.PongWait,
		IdleAfter:       cfg.IdleAfter,
		MaxMessageSize:  cfg.WS.MaxMessageSizeBytes,
		SendBuffer:      cfg.WS.SendBuffer,
		EventsPerSecond: cfg.WS.EventsPerSecond,
	})

	limiter := api.NewUserRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, log)
	go limiter.Run(ctx)

	srv := api.NewServer(api.Options{
		Verifier: verifier,
		Handler:  api.NewMessageHandler(msgs, dir, registry, rt),
		Realtime: rt,
		Limiter:  limiter,
		Metrics:  m,
		Gatherer: reg,
		Health: func(ctx context.Context) error {
			return mc.Ping(ctx, readpref.Primary())
		},
		BodyLimitMB: cfg.App.BodyLimitMB,
		Log:         log,
	})

	go func() {
		if err := srv.Start(cfg.App.Port); err != nil {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown requested")

	rt.Shutdown()
	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		log.Warn("events close", zap.Error(err))
	}
	if err := registry.Close(); err != nil {
		log.Warn("presence close", zap.Error(err))
	}
	dctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = mc.Disconnect(dctx)
	log.Info("shutdown completed")
}

const eventTimeout = 5 * time.Second

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "kafka":
		return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic), nil
	case "nats":
		return events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	}
	return events.Noop{}, nil
}

func newVerifier(cfg *config.Config) (*auth.JWTValidator, error) {
	if cfg.JWT.Algorithm == "RS256" {
		return auth.NewJWTValidatorRS256(cfg.JWT.PublicKeyPath, cfg.JWT.UserClaim)
	}
	return auth.NewJWTValidatorHS256(cfg.JWT.HSSecret, cfg.JWT.UserClaim)
}
