package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/gathering"
	"github.com/unkn0wn-root/querycache/gathering/rest"
	gen "github.com/unkn0wn-root/querycache/genstore"
	asynchook "github.com/unkn0wn-root/querycache/hooks/async"
	logruslog "github.com/unkn0wn-root/querycache/log/logrus"
	slogl "github.com/unkn0wn-root/querycache/log/slog"
	zaplog "github.com/unkn0wn-root/querycache/log/zap"
	pr "github.com/unkn0wn-root/querycache/provider"
	"github.com/unkn0wn-root/querycache/provider/bigcache"
	"github.com/unkn0wn-root/querycache/provider/memory"
	rp "github.com/unkn0wn-root/querycache/provider/redis"
	"github.com/unkn0wn-root/querycache/provider/ristretto"
	"github.com/unkn0wn-root/querycache/sloghooks"
)

// app is everything a command needs, built from Config.
type app struct {
	cfg     Config
	zap     *zap.Logger
	log     querycache.Logger
	client  *rest.Client
	caches  *gathering.Caches
	queries *gathering.Queries
	muts    *gathering.Mutations

	closers []func(context.Context) error
}

func newZap(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func slogLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// newLogger picks the adapter the cache layer logs through.
func newLogger(cfg LogConfig, z *zap.Logger) (querycache.Logger, error) {
	switch cfg.Backend {
	case "logrus":
		l := logrus.New()
		l.SetOutput(os.Stderr)
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		l.SetLevel(level)
		if !cfg.Development {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
		return logruslog.LogrusLogger{E: logrus.NewEntry(l).WithField("app", "gatherctl")}, nil
	case "slog":
		h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.Level)})
		return slogl.Logger{L: slog.New(h).With("app", "gatherctl")}, nil
	default:
		return zaplog.ZapLogger{L: z.With(zap.String("app", "gatherctl"))}, nil
	}
}

func newApp(ctx context.Context, cfg Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.zap, err = newZap(cfg.Log); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		_ = a.zap.Sync()
		return nil
	})
	if a.log, err = newLogger(cfg.Log, a.zap); err != nil {
		return nil, err
	}

	p, gs, err := a.newStore(ctx)
	if err != nil {
		return nil, err
	}

	a.caches, err = gathering.NewCaches(gathering.CacheOptions{
		Provider:  p,
		GenStore:  gs,
		Codec:     cfg.Cache.Codec,
		MaxDecode: cfg.Cache.MaxDecode,
		TTL:       cfg.Cache.TTL,
		Namespace: cfg.Cache.Namespace,
		Logger:    a.log,
		Hooks:     a.newHooks(),
	})
	if err != nil {
		return nil, err
	}
	// caches close first: closers run in reverse
	a.closers = append(a.closers, a.caches.Close)

	a.client, err = rest.New(rest.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		Token:     cfg.API.Token,
		RateLimit: rate.Limit(cfg.API.RateLimit),
		Burst:     cfg.API.Burst,
		Logger:    a.log,
	})
	if err != nil {
		return nil, err
	}

	a.queries = gathering.NewQueries(a.client, a.caches, a.log)
	a.muts = gathering.NewMutations(a.client, a.caches, gathering.MutationsOptions{
		Logger: a.log,
		OnError: func(op string, err error) {
			a.zap.Warn("mutation rolled back", zap.String("op", op), zap.Error(err))
		},
	})
	return a, nil
}

// newStore builds the provider and, for Redis with shared generations, the GenStore.
// A nil GenStore lets Caches own an in-process one.
func (a *app) newStore(ctx context.Context) (pr.Provider, gen.GenStore, error) {
	cc := a.cfg.Cache
	switch cc.Provider {
	case "ristretto":
		p, err := ristretto.New(ristretto.Config{
			NumCounters: cc.Ristretto.NumCounters,
			MaxCost:     cc.Ristretto.MaxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil, nil
	case "bigcache":
		p, err := bigcache.New(ctx, bigcache.Config{
			LifeWindow:         cc.Bigcache.LifeWindow,
			HardMaxCacheSizeMB: cc.Bigcache.HardMaxMB,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis %s: %w", cc.Redis.Addr, err)
		}
		p, err := rp.New(rp.Config{Client: client})
		if err != nil {
			return nil, nil, err
		}
		if !cc.Redis.SharedGen {
			return p, nil, nil
		}
		return p, gen.NewRedisGenStoreWithTTL(client, cc.Namespace, cc.Redis.GenTTL), nil
	default:
		return memory.New(), nil, nil
	}
}

func (a *app) newHooks() querycache.Hooks {
	cc := a.cfg.Cache
	if cc.Hooks != "slog" {
		return nil
	}
	l := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(a.cfg.Log.Level)}))
	var h querycache.Hooks = sloghooks.New(l, sloghooks.Options{
		SelfHealEvery:  cc.Sample,
		StaleDropEvery: cc.Sample,
	})
	if cc.Async {
		ah := asynchook.New(h, 1, 1024)
		a.closers = append(a.closers, func(context.Context) error {
			ah.Close()
			if n := ah.Dropped(); n > 0 {
				a.zap.Warn("cache hook events dropped", zap.Uint64("dropped", n))
			}
			return nil
		})
		h = ah
	}
	return h
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
