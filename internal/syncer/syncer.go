// Package syncer keeps cached package indexes in step with their remote
// sources. A synchronization probes the remote index size, returns the cached
// index when it is unchanged, otherwise diffs the compact quick/ listing
// against the cache and fetches only new records. When the listing is not
// available it falls back to a full index fetch.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/gemsync/internal/cache"
	"github.com/any-hub/gemsync/internal/codec"
	"github.com/any-hub/gemsync/internal/metrics"
	"github.com/any-hub/gemsync/internal/remote"
	"github.com/any-hub/gemsync/internal/spec"
	"github.com/any-hub/gemsync/internal/tracing"
)

// State 是单次同步经过的状态。
type State string

const (
	StateFresh    State = "FRESH"
	StateDiffing  State = "DIFFING"
	StateFallback State = "FALLBACK"
	StateDone     State = "DONE"
)

// Outcome 概括同步结果，用于日志、指标与 HTTP 响应。
type Outcome string

const (
	OutcomeFresh       Outcome = "fresh"
	OutcomeIncremental Outcome = "incremental"
	OutcomeFallback    Outcome = "fallback"
)

// DefaultListingPath 是 compact listing 的默认相对路径。
const DefaultListingPath = "quick/index.rz"

const defaultConcurrency = 4

// Source 是一个需要同步的 (源, 索引类型)。Name 仅用于日志与指标。
type Source struct {
	Name string
	URI  spec.SourceURI
	Kind spec.Kind
}

func (s Source) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.URI.String()
}

func (s Source) key() string {
	return s.URI.String() + "#" + string(s.Kind)
}

// Result 描述一次同步的产出。Added/Removed 为 listing 中的 full name。
type Result struct {
	Source     Source
	RunID      string
	Index      *spec.Index
	Outcome    Outcome
	Added      []string
	Removed    []string
	RemoteSize int64
	States     []State
	Duration   time.Duration
	// CacheWriteErr 非空表示结果已生效但未能落盘。
	CacheWriteErr error
}

// SourceResult 是 SyncAll 中单个源的结果。
type SourceResult struct {
	Source Source
	Result *Result
	Err    error
}

// Fetcher 是同步器需要的整表与单条记录读取能力，由 *fetcher.Fetcher 实现。
type Fetcher interface {
	IndexURL(source spec.SourceURI, kind spec.Kind) string
	FetchIndex(ctx context.Context, source spec.SourceURI, kind spec.Kind) (*spec.Index, int64, error)
	FetchSpecPath(ctx context.Context, fullName string, source spec.SourceURI) (spec.Record, error)
}

// Options 描述 Synchronizer 的依赖。
type Options struct {
	Client      remote.Client
	Cache       *cache.SpecCache
	Fetcher     Fetcher
	ListingPath string
	Concurrency int
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
}

// Synchronizer 实现增量同步状态机。同一 (source, kind) 的并发请求共享一次执行。
type Synchronizer struct {
	client      remote.Client
	cache       *cache.SpecCache
	fetcher     Fetcher
	listingPath string
	concurrency int
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	group       singleflight.Group
}

// New 校验依赖并构建 Synchronizer。
func New(opts Options) (*Synchronizer, error) {
	if opts.Client == nil || opts.Cache == nil || opts.Fetcher == nil {
		return nil, errors.New("synchronizer requires client, cache and fetcher")
	}
	listing := opts.ListingPath
	if listing == "" {
		listing = DefaultListingPath
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
	return &Synchronizer{
		client:      opts.Client,
		cache:       opts.Cache,
		fetcher:     opts.Fetcher,
		listingPath: listing,
		concurrency: concurrency,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// Sync 返回 source 的最新索引。并发调用同一 source 时只执行一次，
// 后到的调用方拿到同一个 Result。
func (s *Synchronizer) Sync(ctx context.Context, source Source) (*Result, error) {
	v, err, _ := s.group.Do(source.key(), func() (any, error) {
		return s.sync(ctx, source)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// SyncAll 并发同步多个源，单个源失败不影响其他源。结果顺序与输入一致。
func (s *Synchronizer) SyncAll(ctx context.Context, sources []Source) []SourceResult {
	results := make([]SourceResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, source := range sources {
		results[i].Source = source
		g.Go(func() error {
			res, err := s.Sync(gctx, source)
			results[i].Result = res
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Synchronizer) sync(ctx context.Context, source Source) (_ *Result, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "syncer.Sync",
		attribute.String("source", source.label()),
		attribute.String("kind", source.Kind.Label()),
	)
	result := &Result{Source: source, RunID: uuid.NewString()}
	logger := s.logger.WithFields(logrus.Fields{
		"action": "sync",
		"source": source.label(),
		"kind":   source.Kind.Label(),
		"run_id": result.RunID,
	})
	defer func() {
		result.Duration = time.Since(start)
		outcome := string(result.Outcome)
		if err != nil {
			outcome = "error"
			logger.WithField("duration", result.Duration.String()).Error(err.Error())
		} else {
			logger.WithFields(logrus.Fields{
				"outcome":  outcome,
				"added":    len(result.Added),
				"removed":  len(result.Removed),
				"records":  result.Index.Len(),
				"duration": result.Duration.String(),
			}).Info("sync completed")
		}
		s.metrics.ObserveSync(source.label(), source.Kind.Label(), outcome, result.Duration)
		span.SetAttributes(attribute.String("outcome", outcome))
		tracing.End(span, err)
	}()

	unlock := s.cache.Lock(source.URI, source.Kind)
	defer unlock()

	size, err := s.client.Size(ctx, s.fetcher.IndexURL(source.URI, source.Kind))
	if err != nil {
		s.metrics.SizeProbe(source.label(), source.Kind.Label(), "error")
		return nil, fmt.Errorf("probe %s index size: %w", source.Kind.Label(), err)
	}
	result.RemoteSize = size

	baseline := spec.EmptyIndex()
	if prior, ok := s.cache.Get(ctx, source.URI, source.Kind); ok {
		if s.cache.IsFresh(prior, size) {
			s.metrics.SizeProbe(source.label(), source.Kind.Label(), "hit")
			result.States = []State{StateFresh, StateDone}
			result.Outcome = OutcomeFresh
			result.Index = prior.Index
			return result, nil
		}
		s.metrics.SizeProbe(source.label(), source.Kind.Label(), "miss")
		baseline = prior.Index
	}

	result.States = append(result.States, StateDiffing)
	names, err := s.fetchListing(ctx, source.URI)
	if err != nil {
		if !remote.IsUnavailable(err) {
			return nil, err
		}
		logger.WithField("reason", err.Error()).Info("listing unavailable, falling back to full index")
		result.States = append(result.States, StateFallback)
		idx, _, err := s.fetcher.FetchIndex(ctx, source.URI, source.Kind)
		if err != nil {
			return nil, err
		}
		if err := s.store(ctx, source, idx, size); err != nil {
			if !cache.IsWriteError(err) {
				return nil, err
			}
			result.CacheWriteErr = err
		}
		result.States = append(result.States, StateDone)
		result.Outcome = OutcomeFallback
		result.Index = idx
		return result, nil
	}

	added, removed := diffNames(baseline, names)
	records := make([]spec.Record, 0, len(added))
	for _, name := range added {
		rec, err := s.fetcher.FetchSpecPath(ctx, name, source.URI)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	current := baseline.FullNames()
	removedIDs := make([]spec.Identifier, 0, len(removed))
	for _, name := range removed {
		removedIDs = append(removedIDs, current[name])
	}
	merged := baseline.Merge(removedIDs, records)

	if err := s.store(ctx, source, merged, size); err != nil {
		if !cache.IsWriteError(err) {
			return nil, err
		}
		result.CacheWriteErr = err
	}
	result.States = append(result.States, StateDone)
	result.Outcome = OutcomeIncremental
	result.Index = merged
	result.Added = added
	result.Removed = removed
	return result, nil
}

// fetchListing 下载并解析 compact listing。名称经 canonicalName 规范化，
// 与缓存中记录的 FullName 保持同一形式。
func (s *Synchronizer) fetchListing(ctx context.Context, source spec.SourceURI) ([]string, error) {
	blob, err := s.client.FetchPath(ctx, source.Resolve(s.listingPath))
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	raw, err := codec.Inflate(blob)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	lines, err := codec.ParseListing(raw)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	names := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		name := canonicalName(line)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

// store 写入缓存；CacheWriteError 在这里记录日志与指标后原样返回，由调用方决定是否继续。
func (s *Synchronizer) store(ctx context.Context, source Source, idx *spec.Index, size int64) error {
	err := s.cache.Put(ctx, source.URI, source.Kind, &cache.Entry{Index: idx, ObservedRemoteSize: size})
	s.metrics.SetIndexed(source.label(), source.Kind.Label(), idx.Len())
	if cache.IsWriteError(err) {
		s.metrics.CacheWriteFailed(source.label(), source.Kind.Label())
		s.logger.WithFields(logrus.Fields{
			"action": "cache_write",
			"source": source.label(),
			"kind":   source.Kind.Label(),
		}).Warn(err.Error())
	}
	return err
}

// canonicalName 去掉显式的默认平台后缀（"-ruby"），其余情况原样返回。
func canonicalName(line string) string {
	if id, err := spec.ParseIdentifier(line); err == nil {
		return id.FullName()
	}
	return line
}

// diffNames 计算 listing 相对 baseline 的增删。added 保持 listing 顺序，removed 按字典序。
func diffNames(baseline *spec.Index, remoteNames []string) (added, removed []string) {
	current := baseline.FullNames()
	remoteSet := make(map[string]struct{}, len(remoteNames))
	for _, name := range remoteNames {
		remoteSet[name] = struct{}{}
		if _, ok := current[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range current {
		if _, ok := remoteSet[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return added, removed
}
