// Package fetcher loads whole package indexes from remote sources, filters
// them against dependency queries and resolves matches to full metadata
// records through the per-record quick/ resources.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/any-hub/gemsync/internal/cache"
	"github.com/any-hub/gemsync/internal/codec"
	"github.com/any-hub/gemsync/internal/metrics"
	"github.com/any-hub/gemsync/internal/remote"
	"github.com/any-hub/gemsync/internal/spec"
	"github.com/any-hub/gemsync/internal/tracing"
)

const (
	defaultRecordCacheSize = 1024
	defaultConcurrency     = 4
)

// Options 描述 Fetcher 的依赖；Client 与 Cache 必填，其余字段有默认值。
type Options struct {
	Client          remote.Client
	Cache           *cache.SpecCache
	Codec           codec.Codec
	Sources         []spec.SourceURI
	FormatVersion   string
	Platforms       []string
	Concurrency     int
	RecordCacheSize int
	Logger          *logrus.Logger
	Metrics         *metrics.Metrics
}

// Fetcher 实现整表加载与单条记录解析，不持有任何全局状态。
type Fetcher struct {
	client        remote.Client
	cache         *cache.SpecCache
	codec         codec.Codec
	sources       []spec.SourceURI
	formatVersion string
	platforms     spec.PlatformMatcher
	concurrency   int
	records       *lru.Cache[recordKey, spec.Record]
	logger        *logrus.Logger
	metrics       *metrics.Metrics
}

type recordKey struct {
	source   spec.SourceURI
	fullName string
}

// New 校验依赖并构建 Fetcher。
func New(opts Options) (*Fetcher, error) {
	if opts.Client == nil {
		return nil, errors.New("fetcher requires a remote client")
	}
	if opts.Cache == nil {
		return nil, errors.New("fetcher requires a spec cache")
	}
	size := opts.RecordCacheSize
	if size <= 0 {
		size = defaultRecordCacheSize
	}
	records, err := lru.New[recordKey, spec.Record](size)
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}
	c := opts.Codec
	if c == nil {
		c = codec.YAML{}
	}
	formatVersion := opts.FormatVersion
	if formatVersion == "" {
		formatVersion = spec.DefaultFormatVersion
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	return &Fetcher{
		client:        opts.Client,
		cache:         opts.Cache,
		codec:         c,
		sources:       append([]spec.SourceURI(nil), opts.Sources...),
		formatVersion: formatVersion,
		platforms:     spec.NewPlatformMatcher(opts.Platforms...),
		concurrency:   concurrency,
		records:       records,
		logger:        logger,
		metrics:       opts.Metrics,
	}, nil
}

// IndexURL 返回 (source, kind) 对应的远端 gzip 索引地址。
func (f *Fetcher) IndexURL(source spec.SourceURI, kind spec.Kind) string {
	return source.Resolve(kind.RemoteName(f.formatVersion))
}

// ListIndex 返回某个源的索引：TTL 内的快照直接复用；远端大小未变时复用缓存；
// 否则整表下载并替换缓存条目。
func (f *Fetcher) ListIndex(ctx context.Context, source spec.SourceURI, kind spec.Kind) (idx *spec.Index, err error) {
	ctx, span := tracing.Start(ctx, "fetcher.ListIndex",
		attribute.String("source", source.String()),
		attribute.String("kind", kind.Label()),
	)
	defer func() { tracing.End(span, err) }()

	unlock := f.cache.Lock(source, kind)
	defer unlock()

	entry, ok := f.cache.Get(ctx, source, kind)
	if ok && f.cache.WithinTTL(entry) {
		return entry.Index, nil
	}

	if ok {
		size, err := f.client.Size(ctx, f.IndexURL(source, kind))
		if err != nil {
			f.metrics.SizeProbe(source.String(), kind.Label(), "error")
			return nil, fmt.Errorf("probe %s index size: %w", kind.Label(), err)
		}
		if f.cache.IsFresh(entry, size) {
			f.metrics.SizeProbe(source.String(), kind.Label(), "hit")
			return entry.Index, nil
		}
		f.metrics.SizeProbe(source.String(), kind.Label(), "miss")
	}

	fetched, size, err := f.FetchIndex(ctx, source, kind)
	if err != nil {
		return nil, err
	}
	if err := f.store(ctx, source, kind, fetched, size); err != nil {
		return nil, err
	}
	return fetched, nil
}

// FetchIndex 无条件下载并解码整表索引，返回索引与压缩正文的字节数，不读写缓存。
func (f *Fetcher) FetchIndex(ctx context.Context, source spec.SourceURI, kind spec.Kind) (*spec.Index, int64, error) {
	uri := f.IndexURL(source, kind)
	blob, err := f.client.FetchPath(ctx, uri)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s index: %w", kind.Label(), err)
	}
	raw, err := codec.Gunzip(blob)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s index: %w", kind.Label(), err)
	}
	idx, err := f.codec.DecodeIndex(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s index: %w", kind.Label(), err)
	}

	f.logger.WithFields(logrus.Fields{
		"action":  "index_fetch",
		"source":  source.String(),
		"kind":    kind.Label(),
		"bytes":   len(blob),
		"records": idx.Len(),
	}).Debug("index fetched")
	return idx, int64(len(blob)), nil
}

// store 写入缓存；落盘失败只记录日志与指标，其他错误向上返回。
func (f *Fetcher) store(ctx context.Context, source spec.SourceURI, kind spec.Kind, idx *spec.Index, size int64) error {
	err := f.cache.Put(ctx, source, kind, &cache.Entry{Index: idx, ObservedRemoteSize: size})
	f.metrics.SetIndexed(source.String(), kind.Label(), idx.Len())
	if err == nil {
		return nil
	}
	if cache.IsWriteError(err) {
		f.metrics.CacheWriteFailed(source.String(), kind.Label())
		f.logger.WithFields(logrus.Fields{
			"action": "cache_write",
			"source": source.String(),
			"kind":   kind.Label(),
		}).Warn(err.Error())
		return nil
	}
	return err
}

// FetchFullRecord 下载 quick/<full name>.gemspec.rz 并解码为完整记录。
func (f *Fetcher) FetchFullRecord(ctx context.Context, id spec.Identifier, source spec.SourceURI) (spec.Record, error) {
	return f.FetchSpecPath(ctx, id.FullName(), source)
}

// FetchSpecPath 与 FetchFullRecord 相同，但直接使用 listing 中的 full name，
// 不经过 ParseIdentifier。
func (f *Fetcher) FetchSpecPath(ctx context.Context, fullName string, source spec.SourceURI) (rec spec.Record, err error) {
	key := recordKey{source: source, fullName: fullName}
	if cached, ok := f.records.Get(key); ok {
		return cached, nil
	}

	ctx, span := tracing.Start(ctx, "fetcher.FetchFullRecord",
		attribute.String("source", source.String()),
		attribute.String("full_name", fullName),
	)
	defer func() {
		f.metrics.RecordFetch(source.String(), err)
		tracing.End(span, err)
	}()

	blob, err := f.client.FetchPath(ctx, source.Resolve(spec.QuickSpecPath(fullName)))
	if err != nil {
		return spec.Record{}, fmt.Errorf("fetch record %s: %w", fullName, err)
	}
	raw, err := codec.Inflate(blob)
	if err != nil {
		return spec.Record{}, fmt.Errorf("fetch record %s: %w", fullName, err)
	}
	rec, err = f.codec.DecodeRecord(raw)
	if err != nil {
		return spec.Record{}, fmt.Errorf("fetch record %s: %w", fullName, err)
	}
	f.records.Add(key, rec)
	return rec, nil
}
