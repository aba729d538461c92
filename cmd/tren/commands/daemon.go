package commands

import (
	"context"
	"database/sql"
	"net"

	"go.uber.org/zap"

	"github.com/teranos/tren/ai/provider"
	"github.com/teranos/tren/ai/tracker"
	"github.com/teranos/tren/am"
	"github.com/teranos/tren/auth"
	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/pulse/async"
	"github.com/teranos/tren/server"
	"github.com/teranos/tren/storage"
	"github.com/teranos/tren/translate"
)

// daemon is a running tren node: the worker pool executing jobs through the
// orchestrator, and the HTTP API over the same queue
type daemon struct {
	queue  *async.Queue
	orch   *translate.Orchestrator
	pool   *async.WorkerPool
	server *server.Server
	log    *zap.SugaredLogger
}

func newDaemon(ctx context.Context, cfg *am.Config, database *sql.DB, log *zap.SugaredLogger) (*daemon, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	blobs, err := storage.NewLocal(cfg.Storage.Dir, am.DefaultDirPermissions)
	if err != nil {
		return nil, err
	}
	trCfg, err := translate.ConfigFromAM(cfg.Translate)
	if err != nil {
		return nil, errors.Wrap(err, "invalid translate config")
	}

	store := job.NewStore(database)
	models := job.NewModelStore(database)
	queue := async.NewQueue(store, job.NewService(store, models, log))
	usage := tracker.NewUsageTracker(database)

	chunkers, assemblers := translate.NewTextRegistries(blobs)
	orch := translate.NewOrchestrator(translate.Deps{
		Jobs:       store,
		Models:     models,
		Chunker:    chunkers,
		Translator: provider.NewTranslator(cfg.Backend, usage, log),
		Assemblers: assemblers,
		Blobs:      blobs,
	}, trCfg, log)
	orch.OnUpdate(queue.Publish)

	pool := async.NewWorkerPool(ctx, queue, orch, async.PoolConfigFromAM(cfg.Pulse), log)

	tokens, err := auth.NewTokenManager(cfg.Server.Auth)
	if err != nil {
		return nil, errors.Wrap(err, "invalid server.auth config")
	}

	srv := server.New(server.Deps{
		Queue:          queue,
		Models:         models,
		Blobs:          blobs,
		Pool:           pool,
		Usage:          usage,
		Auth:           tokens,
		Chunkers:       chunkers,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)

	return &daemon{queue: queue, orch: orch, pool: pool, server: srv, log: log}, nil
}

// start launches the workers and serves the API on ln. Serve errors are
// delivered on the returned channel.
func (d *daemon) start(ln net.Listener) <-chan error {
	d.pool.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.Serve(ln)
	}()
	return errCh
}

// applyConfig takes a reloaded configuration. Only the translate section is
// applied live; it affects jobs started afterwards.
func (d *daemon) applyConfig(cfg *am.Config) error {
	trCfg, err := translate.ConfigFromAM(cfg.Translate)
	if err != nil {
		return err
	}
	d.orch.SetConfig(trCfg)
	d.log.Infow("Applied reloaded translate config",
		"max_attempts", trCfg.Retry.MaxAttempts,
		"history", trCfg.History,
		"special_tokens", len(trCfg.SpecialTokens))
	return nil
}

// stop closes the API first so no new work arrives, then drains the pool
func (d *daemon) stop(ctx context.Context) error {
	err := d.server.Shutdown(ctx)
	d.pool.Stop()
	return err
}
