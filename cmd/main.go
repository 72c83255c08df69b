package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lijuuu/ContestLivescoreService/internal/broadcaster"
	"github.com/lijuuu/ContestLivescoreService/internal/callsign"
	"github.com/lijuuu/ContestLivescoreService/internal/config"
	"github.com/lijuuu/ContestLivescoreService/internal/db"
	"github.com/lijuuu/ContestLivescoreService/internal/distribute"
	"github.com/lijuuu/ContestLivescoreService/internal/events"
	"github.com/lijuuu/ContestLivescoreService/internal/handlers"
	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/repo"
	"github.com/lijuuu/ContestLivescoreService/internal/service"
	"github.com/lijuuu/ContestLivescoreService/internal/state"
	"github.com/lijuuu/ContestLivescoreService/internal/subscription"
	"github.com/lijuuu/ContestLivescoreService/internal/supervisor"
	"github.com/lijuuu/ContestLivescoreService/internal/wss"
	wsstypes "github.com/lijuuu/ContestLivescoreService/internal/wss/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})

	table, err := callsign.Load(cfg.Callsign.TablePath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Callsign.TablePath).Msg("failed to load callsign table")
	}

	localState := state.NewLocalStateManager()
	bus := events.NewBus(0)
	defer bus.Close()

	svc := service.NewContestService(localState, table, bus, service.Config{
		QueueSize:   cfg.Ingest.QueueSize,
		MaxBatch:    cfg.Ingest.MaxBatch,
		Retention:   cfg.Ingest.Retention,
		LongWindow:  cfg.Rates.LongWindow,
		ShortWindow: cfg.Rates.ShortWindow,
	})

	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	breaker := events.BreakerConfig{
		FailureThreshold: cfg.Sinks.BreakerFailures,
		Timeout:          cfg.Sinks.BreakerTimeout,
		WriteTimeout:     cfg.Sinks.WriteTimeout,
	}

	// === SINKS ===

	if cfg.Storage.PostgresURL != "" {
		gdb, err := db.InitPostgres(cfg.Storage)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		pg := repo.NewPSQLRepository(gdb)
		if err := pg.Migrate(context.Background()); err != nil {
			logging.Fatal().Err(err).Msg("failed to migrate postgres")
		}
		warmStart(pg, svc, cfg.Storage.WarmStart)
		tree.AddDataService(events.NewSnapshotConsumer(bus, pg, breaker))
		logging.Info().Msg("postgres snapshot persistence enabled")
	}

	var archive repo.Archive
	if cfg.Redis.URL != "" {
		rdb, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		cache := repo.NewRedisRepository(rdb, cfg.Redis.TTL)
		archive = append(archive, cache)
		tree.AddDataService(events.NewLeaderboardConsumer(bus, cache, breaker))
		logging.Info().Msg("redis leaderboard cache enabled")
	}
	if cfg.Mongo.URL != "" {
		client, err := db.InitMongo(cfg.Mongo)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to mongo")
		}
		defer client.Disconnect(context.Background())
		mongoRepo := repo.NewMongoRepository(client, cfg.Mongo.Database)
		if err := mongoRepo.EnsureIndexes(context.Background()); err != nil {
			logging.Fatal().Err(err).Msg("failed to create mongo indexes")
		}
		archive = append(archive, mongoRepo)
		tree.AddDataService(events.NewLeaderboardConsumer(bus, mongoRepo, breaker))
		logging.Info().Str("database", cfg.Mongo.Database).Msg("mongo leaderboard archive enabled")
	}
	if cfg.NATS.URL != "" {
		publisher, err := distribute.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer publisher.Close()
		tree.AddMessagingService(events.NewSnapshotConsumer(bus, publisher, breaker))
		logging.Info().Str("prefix", cfg.NATS.SubjectPrefix).Msg("nats live distribution enabled")
	}

	// === STREAMING ===

	bcast := broadcaster.New(svc, localState, broadcaster.Config{
		TickInterval: cfg.Stream.TickInterval,
		Subscription: subscription.Config{
			MinInterval:    cfg.Stream.MinInterval,
			IdleTimeout:    cfg.Stream.IdleTimeout,
			SendTimeout:    cfg.Stream.SendTimeout,
			ReconnectGrace: cfg.Stream.ReconnectGrace,
			BackoffInitial: cfg.Stream.BackoffInitial,
			BackoffMax:     cfg.Stream.BackoffMax,
		},
	})
	wsHandler := wss.WsHandler(wss.NewDefaultDispatcher(), &wsstypes.State{Broadcaster: bcast}, cfg.Stream.SendTimeout)

	// === API ===

	limiter := handlers.NewRateLimiter(cfg.Server.SubmitRate, cfg.Server.SubmitBurst)
	deps := handlers.RouterDeps{
		Contests:  svc,
		WebSocket: wsHandler,
		Limiter:   limiter,
		Healthy:   svc.Healthy,
	}
	if len(archive) > 0 {
		deps.Archive = archive
	}
	server := handlers.NewServer(":"+cfg.Server.HTTPPort, handlers.NewRouter(deps), cfg.Server.ReadTimeout, cfg.Server.ShutdownTimeout)
	grpcServer := handlers.NewGRPCServer(":"+cfg.Server.GRPCPort, svc.Healthy)

	tree.AddDataService(svc)
	tree.AddDataService(supervisor.NewFunc("snapshot-pruner", func(ctx context.Context) error {
		return svc.RunPruner(ctx, cfg.Ingest.PruneInterval)
	}))
	tree.AddMessagingService(bcast)
	tree.AddAPIService(limiter)
	tree.AddAPIService(server)
	tree.AddAPIService(grpcServer)

	// === START SUPERVISOR TREE ===

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("http", cfg.Server.HTTPPort).
		Str("grpc", cfg.Server.GRPCPort).
		Msg("starting contest livescore service")
	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received, waiting for services to stop")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, u := range unstopped {
		logging.Warn().Str("service", u.Name).Msg("service failed to stop within timeout")
	}
	logging.Info().Msg("contest livescore service stopped")
}

// warmStart reloads the serving window of snapshots so rates and rankings survive a
// restart.
func warmStart(pg *repo.PSQLRepository, svc *service.ContestService, window time.Duration) {
	if window <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	snaps, err := pg.LoadSince(ctx, time.Now().Add(-window))
	if err != nil {
		logging.Warn().Err(err).Msg("warm start skipped")
		return
	}
	svc.Restore(snaps)
}
