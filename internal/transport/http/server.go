package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialgraph/internal/cache"
	"socialgraph/internal/config"
	"socialgraph/internal/database"
	"socialgraph/internal/handler"
	"socialgraph/internal/logging"
	"socialgraph/internal/queue"
	"socialgraph/internal/redis"
	"socialgraph/internal/repository"
	"socialgraph/internal/repository/memory"
	"socialgraph/internal/repository/mongostore"
	"socialgraph/internal/service"
	"socialgraph/internal/worker"
)

// Run loads configuration, wires every component and serves until SIGINT or SIGTERM.
func Run() error {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(cfg.Logging.LoggerConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if store.Close != nil {
			if err := store.Close(); err != nil {
				logging.Warn().Err(err).Msg("closing store")
			}
		}
	}()

	// 3. Optional Redis: timelines, idempotency keys and the event stream
	var (
		rdb         *redis.Client
		timelines   cache.TimelineCache
		idempotency cache.IdempotencyStore
	)
	if cfg.Redis.URL != "" {
		rdb, err = redis.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()

		timelines = cache.NewTimelineCache(rdb.Client, cache.TimelineOptions{
			GlobalCap: cfg.Timeline.GlobalCap,
			HomeCap:   cfg.Timeline.HomeCap,
			TTL:       cfg.Timeline.TTL,
		})
		idempotency = cache.NewIdempotencyStore(rdb.Client)
	} else {
		logging.Warn().Msg("redis not configured: events are handled in process and timelines are not cached")
	}

	// 4. Services, handlers and the event pipeline
	mediaStore, err := service.NewMediaStore(ctx, cfg.Media)
	if err != nil {
		return fmt.Errorf("failed to initialize media store: %w", err)
	}

	var primary queue.Publisher
	if rdb != nil {
		primary = queue.NewPublisher(rdb.Client, cfg.Events.Stream)
	}
	eventHandler, routerCfg := wire(store, timelines, primary, queue.BreakerConfig{
		FailureThreshold: cfg.Events.BreakerFailures,
		Timeout:          cfg.Events.BreakerTimeout,
	}, mediaStore)

	routerCfg.JWTSecret = cfg.Auth.JWTSecret
	routerCfg.RequestTimeout = cfg.Server.RequestTimeout
	routerCfg.Idempotency = idempotency
	routerCfg.IdempotencyTTL = cfg.Idempotency.TTL
	if cfg.Media.Driver == config.MediaLocal {
		routerCfg.UploadsDir = cfg.Media.LocalDir
		routerCfg.UploadsPrefix = cfg.Media.URLPrefix
	}

	// 5. Background workers
	if rdb != nil {
		manager := worker.NewManager(queue.NewConsumer(rdb.Client), eventHandler, worker.ManagerConfig{
			Stream:         cfg.Events.Stream,
			Group:          cfg.Events.Group,
			Consumer:       cfg.Events.Consumer,
			BatchSize:      cfg.Events.BatchSize,
			BlockTimeout:   cfg.Events.Block,
			HandlerTimeout: cfg.Events.HandlerTimeout,
		})
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event workers: %w", err)
		}
		defer manager.Stop()
	}

	if cfg.Reconcile.Interval > 0 && store.Reconciler != nil {
		reconciler := worker.NewReconciler(store.Reconciler, cfg.Reconcile.Interval)
		reconciler.Start(ctx)
		defer reconciler.Stop()
	}

	// 6. Serve
	srv := &stdhttp.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().
			Str("addr", srv.Addr).
			Str("storage", cfg.Storage.Driver).
			Str("media", cfg.Media.Driver).
			Bool("redis", rdb != nil).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// wire builds the services and handlers over store. Events go through primary behind a
// circuit breaker when primary is set, and are handled in process otherwise.
func wire(
	store *repository.Store,
	timelines cache.TimelineCache,
	primary queue.Publisher,
	breaker queue.BreakerConfig,
	media service.MediaStore,
) (*worker.Handler, RouterConfig) {
	notificationService := service.NewNotificationService(store.Notifications, store.Users)
	eventHandler := worker.NewHandler(timelines, store.Follows, store.Posts, notificationService)

	var publisher queue.Publisher = queue.NewLocalPublisher(eventHandler.HandleEvent)
	if primary != nil {
		publisher = queue.NewBreakerPublisher(primary, publisher, breaker)
	}

	userService := service.NewUserService(store.Users, store.Follows, store.Posts, media)
	followService := service.NewFollowService(store.Follows, store.Users, publisher)
	feedService := service.NewFeedService(timelines, store.Posts, store.Follows, store.Users)
	postService := service.NewPostService(store.Posts, store.Users, store.Comments, publisher)
	commentService := service.NewCommentService(store.Comments, store.Posts, store.Users, publisher)
	mediaService := service.NewMediaService(media)

	return eventHandler, RouterConfig{
		UserHandler:         handler.NewUserHandler(userService),
		FollowHandler:       handler.NewFollowHandler(followService),
		FeedHandler:         handler.NewFeedHandler(feedService),
		PostHandler:         handler.NewPostHandler(postService, mediaService),
		CommentHandler:      handler.NewCommentHandler(commentService),
		MediaHandler:        handler.NewMediaHandler(mediaService),
		NotificationHandler: handler.NewNotificationHandler(notificationService),
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := database.Connect(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.Migrate {
			if err := database.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return repository.NewPostgresStore(db), nil

	case config.StorageMongo:
		db, err := database.ConnectMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.Migrate {
			if err := mongostore.EnsureIndexes(ctx, db); err != nil {
				_ = db.Client().Disconnect(context.Background())
				return nil, err
			}
		}
		return mongostore.NewStore(db), nil

	case config.StorageMemory:
		logging.Warn().Msg("using in-memory storage: data is lost on restart")
		return memory.NewStore(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
