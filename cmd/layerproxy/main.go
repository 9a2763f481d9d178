// Command layerproxy serves the TiTiler analysis proxy and the layer catalog.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/layer-atlas/internal/auditevents"
	"github.com/mohammed-shakir/layer-atlas/internal/cache"
	"github.com/mohammed-shakir/layer-atlas/internal/cache/redisstore"
	"github.com/mohammed-shakir/layer-atlas/internal/catalog"
	"github.com/mohammed-shakir/layer-atlas/internal/core/config"
	"github.com/mohammed-shakir/layer-atlas/internal/core/health"
	"github.com/mohammed-shakir/layer-atlas/internal/core/httpclient"
	"github.com/mohammed-shakir/layer-atlas/internal/core/server"
	"github.com/mohammed-shakir/layer-atlas/internal/hotness"
	"github.com/mohammed-shakir/layer-atlas/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/layer-atlas/internal/logger"
	"github.com/mohammed-shakir/layer-atlas/internal/metrics"
	"github.com/mohammed-shakir/layer-atlas/internal/proxy"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "layerproxy",
		Component: "proxy",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting layerproxy",
		"addr", cfg.Addr,
		"version", Version,
		"allowlist", strings.Join(cfg.TitilerAllowlist, ","),
		"upstream_timeout", cfg.UpstreamTimeout.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	allow, err := proxy.NewAllowlist(cfg.TitilerAllowlist)
	if err != nil {
		appLog.Error("bad TITILER_ALLOWLIST", "err", err)
		return 1
	}
	if allow.Len() == 0 {
		appLog.Warn("TITILER_ALLOWLIST is empty; every proxy request will be rejected")
	}

	deps := server.Deps{Checks: map[string]health.Checker{}}
	opts := []proxy.Option{proxy.WithTimeout(cfg.UpstreamTimeout)}

	var infoCache *cache.InfoCache
	if cfg.Cache.Enabled {
		cacheOpts := []cache.Option{cache.WithLogger(appLog), cache.WithOpTimeout(cfg.Cache.OpTimeout)}
		if cfg.Cache.HotThreshold > 1 {
			cacheOpts = append(cacheOpts, cache.WithAdmission(&hotness.Admission{
				Hot:       hotness.New(cfg.Cache.HotHalfLife),
				Threshold: cfg.Cache.HotThreshold,
			}))
		}
		if cfg.Cache.RedisEnabled {
			rc, err := redisstore.New(ctx, cfg.Cache.RedisAddr)
			if err != nil {
				appLog.Error("redis unavailable", "addr", cfg.Cache.RedisAddr, "err", err)
				return 1
			}
			defer func() { _ = rc.Close() }()
			cacheOpts = append(cacheOpts, cache.WithRemote(rc))
			deps.Checks["redis"] = rc
		}
		infoCache = cache.NewInfoCache(cfg.Cache.Size, cfg.Cache.TTL, cacheOpts...)
		opts = append(opts, proxy.WithInfoCache(infoCache))
	}

	if cfg.Audit.Enabled {
		pub, err := auditevents.NewPublisher(cfg.Kafka.BrokerList(), cfg.Audit.Topic, cfg.Audit.BufferSize, appLog)
		if err != nil {
			appLog.Error("audit publisher init failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("audit publisher close", "err", err)
			}
		}()
		opts = append(opts, proxy.WithAudit(pub, cfg.H3Res))
	}

	if cfg.Invalidation.Enabled {
		if infoCache == nil {
			appLog.Warn("INVALIDATION_ENABLED without INFO_CACHE_ENABLED; nothing to invalidate")
		} else {
			cons := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg), appLog, infoCache)
			go func() {
				if err := cons.Start(ctx); err != nil {
					appLog.Error("invalidation consumer stopped", "err", err)
				}
			}()
		}
	}

	if cat, err := catalog.Load(cfg.LayerCatalog, appLog); err != nil {
		appLog.Warn("layer catalog not loaded; /api/layers disabled", "path", cfg.LayerCatalog, "err", err)
	} else {
		appLog.Info("layer catalog loaded", "path", cfg.LayerCatalog, "layers", cat.Len())
		deps.Catalog = cat
	}

	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		deps.Metrics = p.Handler()
	}

	deps.Proxy = proxy.New(appLog, httpclient.NewOutbound(cfg.UpstreamTimeout), allow, opts...)

	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
