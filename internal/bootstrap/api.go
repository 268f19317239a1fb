// Package bootstrap is the composition root: the single place where concrete
// backends are chosen, wired, connected, and torn down. No DI container,
// explicit wiring only.
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/urlmeta/internal/application/enqueue"
	"github.com/baechuer/urlmeta/internal/config"
	"github.com/baechuer/urlmeta/internal/domain"
	redisc "github.com/baechuer/urlmeta/internal/infrastructure/caching/redis"
	"github.com/baechuer/urlmeta/internal/infrastructure/messaging/inmemory"
	"github.com/baechuer/urlmeta/internal/infrastructure/messaging/rabbitmq"
	memrepo "github.com/baechuer/urlmeta/internal/infrastructure/persistence/memory"
	mongorepo "github.com/baechuer/urlmeta/internal/infrastructure/persistence/mongo"
	"github.com/baechuer/urlmeta/internal/transport/http/handlers"
	"github.com/baechuer/urlmeta/internal/transport/http/router"
)

// publisher is the full lifecycle surface of a queue publisher backend.
type publisher interface {
	Connect(ctx context.Context) error
	Ready() bool
	Publish(ctx context.Context, msg domain.QueueMessage) error
	Close(ctx context.Context) error
}

// repository is the ingress-side store surface: lookups plus lifecycle.
type repository interface {
	GetByURL(ctx context.Context, url string) (*domain.MetadataRecord, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type APIApp struct {
	cfg   *config.Config
	pub   publisher
	repo  repository
	cache *redisc.Client
	srv   *http.Server
	lg    zerolog.Logger
}

// NewAPIApp wires the ingress service. Startup order is publisher first,
// store second; a store failure tears the publisher back down so the app
// never starts half-connected. The returned cleanup is safe to call once.
func NewAPIApp(ctx context.Context, cfg *config.Config, lg zerolog.Logger) (*APIApp, func(), error) {
	app := &APIApp{cfg: cfg, lg: lg.With().Str("service", "api").Logger()}

	pub, err := buildPublisher(ctx, cfg, lg)
	if err != nil {
		return nil, nil, err
	}
	app.pub = pub

	repo, err := buildRepository(ctx, cfg, lg)
	if err != nil {
		_ = pub.Close(ctx)
		return nil, nil, err
	}
	app.repo = repo

	if cfg.CacheEnabled {
		cache, cerr := redisc.New(cfg.RedisURL)
		if cerr != nil {
			app.lg.Warn().Err(cerr).Msg("lookup cache unavailable, continuing without it")
		} else {
			app.cache = cache
			app.lg.Info().Msg("lookup cache enabled")
		}
	}

	enq := enqueue.NewService(pub, lg)
	m := handlers.NewMetadataHandler(enq, repo, lg)
	if app.cache != nil {
		m = m.WithCache(app.cache, cfg.CacheTTLRecord, redisc.RecordKey)
	}
	z := handlers.NewHealthHandler(pub, repo, cfg.ReadinessPingTimeout, lg)

	app.srv = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router.New(m, z),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	cleanup := func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.pub.Close(cctx)
		_ = app.repo.Close(cctx)
		if app.cache != nil {
			_ = app.cache.Close()
		}
	}
	return app, cleanup, nil
}

// Start serves until ctx is cancelled, then shuts the listener down
// gracefully.
func (a *APIApp) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.lg.Info().Str("addr", a.cfg.HTTPAddr).Msg("api listening")
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.lg.Info().Msg("api shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.srv.Shutdown(shCtx)
}

func buildPublisher(ctx context.Context, cfg *config.Config, lg zerolog.Logger) (publisher, error) {
	switch cfg.PublisherBackend {
	case config.PublisherInMemory:
		lg.Info().Msg("using in-memory publisher")
		return inmemory.New(), nil
	default:
		pub := rabbitmq.NewPublisher(rabbitmq.PublisherConfig{
			URL:            cfg.AMQPURL(),
			Queue:          cfg.QueueName,
			QueueMaxLength: cfg.QueueMaxLength,
			PublishTimeout: cfg.PublishTimeout,
			Backoff:        cfg.BackoffPolicy(),
		}, lg)
		if err := pub.Connect(ctx); err != nil {
			return nil, err
		}
		return pub, nil
	}
}

func buildRepository(ctx context.Context, cfg *config.Config, lg zerolog.Logger) (repository, error) {
	switch cfg.RepositoryBackend {
	case config.RepositoryInMemory:
		lg.Info().Msg("using in-memory repository")
		return memrepo.New(), nil
	default:
		client, err := mongorepo.Connect(ctx, cfg.MongoURI(),
			time.Duration(cfg.MongoConnectTimeoutMS)*time.Millisecond,
			cfg.BackoffPolicy(), lg)
		if err != nil {
			return nil, err
		}
		coll := client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection)
		repo := mongorepo.NewRepository(coll, client)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = repo.Close(ctx)
			return nil, err
		}
		return repo, nil
	}
}
