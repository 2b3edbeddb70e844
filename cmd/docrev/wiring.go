package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nainya/docrev/internal/config"
	"github.com/nainya/docrev/internal/logger"
	"github.com/nainya/docrev/internal/metrics"
	"github.com/nainya/docrev/pkg/blob"
	"github.com/nainya/docrev/pkg/engine"
	"github.com/nainya/docrev/pkg/journal"
	"github.com/nainya/docrev/pkg/notify"
	"github.com/nainya/docrev/pkg/storage"
)

// app is everything a command needs, opened from configuration
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	db      *storage.DB
	engine  *engine.Engine
	bus     *notify.Bus

	closers []func() error
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Pretty:     cfg.Log.Pretty,
		WithCaller: cfg.Log.Caller,
	})
}

// openApp opens storage, blob backend and notifiers and builds the engine.
// Retention policies from the configuration are written to the store.
func openApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = storage.Open(cfg.DB.Path, storage.Options{Timeout: cfg.DB.Timeout, NoSync: cfg.DB.NoSync})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)

	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return nil, err
	}

	notifier, err := a.openNotifiers()
	if err != nil {
		return nil, err
	}

	var perms engine.Permissions = engine.StaticPermissions{
		Managers: cfg.Access.Managers,
		Deleters: cfg.Access.Deleters,
	}
	if cfg.Access.AllowAll {
		perms = engine.AllowAll
	}

	a.engine, err = engine.New(a.db, blobs, engine.Options{
		Permissions:            perms,
		Notifier:               notifier,
		Logger:                 log.Zerolog(),
		CompareTimeout:         cfg.Compare.Timeout,
		CompareCapacity:        cfg.Compare.Capacity,
		LockSweepInterval:      cfg.Sweep.Locks,
		RetentionSweepInterval: cfg.Sweep.Retention,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.engine.Close(); return nil })

	for pattern, p := range cfg.Retention {
		if err := a.engine.SetRetentionPolicy(ctx, pattern, p); err != nil {
			return nil, fmt.Errorf("retention policy %q: %w", pattern, err)
		}
	}
	return a, nil
}

func (a *app) openBlobs(ctx context.Context) (blob.Store, error) {
	var store blob.Store
	switch a.cfg.Blob.Backend {
	case "memory":
		store = blob.NewMemoryStore()
	case "file":
		fs, err := blob.NewFileStore(a.cfg.Blob.Dir)
		if err != nil {
			return nil, err
		}
		store = fs
	case "minio":
		ms, err := blob.NewMinIOStore(ctx, a.cfg.Blob.MinIO)
		if err != nil {
			return nil, err
		}
		store = ms
	default:
		return nil, fmt.Errorf("unknown blob backend %q", a.cfg.Blob.Backend)
	}

	if a.cfg.Blob.CacheMB == 0 {
		return store, nil
	}
	cached, err := blob.NewCachedStore(store, blob.CacheConfig{MaxCost: a.cfg.Blob.CacheMB << 20})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { cached.Close(); return nil })
	return cached, nil
}

// openNotifiers builds the fanout every engine event goes through
func (a *app) openNotifiers() (notify.Notifier, error) {
	n := a.cfg.Notify

	a.bus = notify.NewBus()
	a.bus.OnDrop = a.metrics.DropCounter()
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	fan := notify.Fanout{a.metrics, a.bus}

	if n.JournalPath != "" {
		j, err := journal.Open(n.JournalPath, journal.Options{})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, j.Close)
		fan = append(fan, j)
	}

	if n.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     n.Redis.Addr,
			Password: n.Redis.Password,
			DB:       n.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		fan = append(fan, notify.NewRedisPublisher(client, n.Redis.Channel))
	}

	if len(n.Kafka.Brokers) > 0 {
		kp := notify.NewKafkaPublisher(n.Kafka)
		a.closers = append(a.closers, kp.Close)
		fan = append(fan, kp)
	}
	return fan, nil
}

// Close releases resources in reverse order of opening
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// logEvents writes every bus event to the log until ctx ends
func logEvents(ctx context.Context, bus *notify.Bus, log *logger.Logger, buffer int) error {
	events, cancel := bus.Subscribe(buffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			log.Debug().
				Str("event_id", e.ID).
				Str("type", string(e.Type)).
				Str("document_id", e.DocumentID).
				Str("actor", e.Actor).
				Msg("event")
		}
	}
}
