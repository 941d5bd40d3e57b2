package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/gemsync/internal/cache"
	"github.com/any-hub/gemsync/internal/codec"
	"github.com/any-hub/gemsync/internal/config"
	"github.com/any-hub/gemsync/internal/fetcher"
	"github.com/any-hub/gemsync/internal/logging"
	"github.com/any-hub/gemsync/internal/metrics"
	"github.com/any-hub/gemsync/internal/remote"
	"github.com/any-hub/gemsync/internal/server"
	"github.com/any-hub/gemsync/internal/syncer"
	"github.com/any-hub/gemsync/internal/version"
)

// services 持有一次进程生命周期内共享的组件。
type services struct {
	registry     *server.SourceRegistry
	promRegistry *prometheus.Registry
	cache        *cache.SpecCache
	fetcher      *fetcher.Fetcher
	syncer       *syncer.Synchronizer
	manager      *syncer.Manager
}

func buildServices(cfg *config.Config, logger *logrus.Logger) (*services, error) {
	registry, err := server.NewSourceRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建源注册表失败: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	client, err := buildUpstreamClient(cfg, registry, logger)
	if err != nil {
		return nil, err
	}

	g := cfg.Global
	store, err := cache.NewSpecCache(cache.Options{
		BasePath:      g.StoragePath,
		FormatVersion: g.IndexFormatVersion,
		TTL:           g.CacheTTL.DurationValue(),
		Codec:         codec.YAML{},
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	f, err := fetcher.New(fetcher.Options{
		Client:          client,
		Cache:           store,
		Codec:           codec.YAML{},
		Sources:         registry.URIs(),
		FormatVersion:   g.IndexFormatVersion,
		Platforms:       g.Platforms,
		Concurrency:     g.SyncConcurrency,
		RecordCacheSize: g.RecordCacheSize,
		Logger:          logger,
		Metrics:         m,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 fetcher 失败: %w", err)
	}

	s, err := syncer.New(syncer.Options{
		Client:      client,
		Cache:       store,
		Fetcher:     f,
		ListingPath: g.QuickIndexPath,
		Concurrency: g.SyncConcurrency,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化同步器失败: %w", err)
	}

	sources := registry.SyncSources()
	manager := syncer.NewManager(syncer.ManagerConfig{
		Synchronizer: s,
		Sources:      sources,
		PollInterval: g.SyncInterval.DurationValue(),
		Logger:       logger,
	})

	fields := logging.BaseFields("bootstrap", "")
	fields["sources"] = sourceNames(sources)
	fields["storage_path"] = store.BasePath()
	fields["format_version"] = g.IndexFormatVersion
	logger.WithFields(fields).Debug("服务组件已初始化")

	return &services{
		registry:     registry,
		promRegistry: promRegistry,
		cache:        store,
		fetcher:      f,
		syncer:       s,
		manager:      manager,
	}, nil
}

// buildUpstreamClient 为每个源创建独立的 HTTP 客户端（代理与凭证按源隔离），
// 再以 Mux 按 URL 前缀分派。
func buildUpstreamClient(cfg *config.Config, registry *server.SourceRegistry, logger *logrus.Logger) (*remote.Mux, error) {
	g := cfg.Global
	base := remote.Options{
		Timeout:        g.UpstreamTimeout.DurationValue(),
		MaxRetries:     g.MaxRetries,
		InitialBackoff: g.InitialBackoff.DurationValue(),
		UserAgent:      version.UserAgent(),
		Logger:         logger,
	}

	fallback, err := remote.NewHTTPClient(base)
	if err != nil {
		return nil, fmt.Errorf("初始化上游客户端失败: %w", err)
	}
	mux := remote.NewMux(fallback)
	for _, route := range registry.List() {
		opts := base
		opts.Proxy = route.Config.Proxy
		opts.Username = route.Config.Username
		opts.Password = route.Config.Password
		client, err := remote.NewHTTPClient(opts)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", route.Config.Name, err)
		}
		mux.Handle(route.URI.String(), client)
	}
	return mux, nil
}
