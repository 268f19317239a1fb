package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/urlmeta/internal/application/processing"
	"github.com/baechuer/urlmeta/internal/config"
	"github.com/baechuer/urlmeta/internal/domain"
	"github.com/baechuer/urlmeta/internal/fetcher"
	"github.com/baechuer/urlmeta/internal/infrastructure/messaging/rabbitmq"
	memrepo "github.com/baechuer/urlmeta/internal/infrastructure/persistence/memory"
	mongorepo "github.com/baechuer/urlmeta/internal/infrastructure/persistence/mongo"
	"github.com/baechuer/urlmeta/internal/metrics"
	"github.com/baechuer/urlmeta/internal/transport/http/response"
)

// workerRepository is the store surface the worker needs: all status
// transitions plus lifecycle.
type workerRepository interface {
	processing.Repository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkerApp struct {
	cfg      *config.Config
	consumer *rabbitmq.Consumer
	fetch    *fetcher.Fetcher
	repo     workerRepository
	svc      *processing.Service
	srv      *http.Server
	lg       zerolog.Logger

	// procMu serializes message handling and lets shutdown wait for the
	// in-flight message before tearing connections down.
	procMu sync.Mutex
}

// NewWorkerApp wires the worker. Startup order is store first, broker
// second; a broker failure tears the store back down.
func NewWorkerApp(ctx context.Context, cfg *config.Config, lg zerolog.Logger) (*WorkerApp, func(), error) {
	app := &WorkerApp{cfg: cfg, lg: lg.With().Str("service", "worker").Logger()}

	repo, err := buildWorkerRepository(ctx, cfg, lg)
	if err != nil {
		return nil, nil, err
	}
	app.repo = repo

	consumer := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:            cfg.AMQPURL(),
		Queue:          cfg.QueueName,
		QueueMaxLength: cfg.QueueMaxLength,
		PrefetchCount:  cfg.PrefetchCount,
		Backoff:        cfg.BackoffPolicy(),
	}, lg)
	if err := consumer.Connect(ctx); err != nil {
		_ = repo.Close(ctx)
		return nil, nil, err
	}
	app.consumer = consumer

	app.fetch = fetcher.New(cfg.FetchConnectTimeout, cfg.FetchReadTimeout, cfg.FetchUserAgent, lg)
	app.svc = processing.NewService(repo, app.fetch, processing.Config{
		MaxRetries:          cfg.MaxRetries,
		MaxPageSourceLength: cfg.MaxPageSourceLength,
	}, lg)

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())
	app.srv = &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	cleanup := func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.consumer.Close(cctx)
		app.fetch.Close()
		_ = app.repo.Close(cctx)
	}
	return app, cleanup, nil
}

// Start subscribes to the queue and blocks until ctx is cancelled, then
// drains: cancel the subscription, wait out the in-flight message up to
// SHUTDOWN_LOCK_WAIT, and tear everything down.
func (w *WorkerApp) Start(ctx context.Context) error {
	tag, err := w.consumer.StartConsuming(w.handle)
	if err != nil {
		return err
	}
	w.lg.Info().Str("consumer_tag", tag).Str("queue", w.cfg.QueueName).Msg("worker consuming")

	go func() {
		w.lg.Info().Str("addr", w.cfg.HTTPAddr).Msg("worker metrics listening")
		if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.lg.Error().Err(err).Msg("metrics server failed")
		}
	}()

	<-ctx.Done()
	w.lg.Info().Msg("worker shutting down")

	if err := w.consumer.Cancel(tag); err != nil {
		w.lg.Warn().Err(err).Msg("consumer cancel failed")
	}
	w.waitForInflight()

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = w.srv.Shutdown(shCtx)
	return nil
}

// waitForInflight blocks until the current message handler finishes, bounded
// by the configured lock wait.
func (w *WorkerApp) waitForInflight() {
	acquired := make(chan struct{})
	go func() {
		w.procMu.Lock()
		w.procMu.Unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(w.cfg.ShutdownLockWait):
		w.lg.Warn().Dur("waited", w.cfg.ShutdownLockWait).Msg("in-flight message did not finish before shutdown")
	}
}

// handle processes one delivery. The service settles the acknowledgement on
// the paths it owns; anything it returns unsettled (malformed payloads,
// store failures) is rejected without requeue to keep poison messages from
// looping.
func (w *WorkerApp) handle(d rabbitmq.Delivery) {
	w.procMu.Lock()
	defer w.procMu.Unlock()

	err := w.svc.HandleDelivery(context.Background(), d)
	if err == nil {
		return
	}

	var malformed *domain.MalformedMessageError
	if errors.As(err, &malformed) {
		w.lg.Error().Err(err).Msg("poison message rejected")
		metrics.RecordPoisonMessage()
	} else {
		w.lg.Error().Err(err).Msg("message handling failed, rejecting without requeue")
	}
	if rerr := d.Reject(); rerr != nil {
		w.lg.Warn().Err(rerr).Msg("reject failed")
	}
}

func buildWorkerRepository(ctx context.Context, cfg *config.Config, lg zerolog.Logger) (workerRepository, error) {
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
