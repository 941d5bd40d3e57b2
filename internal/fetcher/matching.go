package fetcher

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/gemsync/internal/spec"
)

// SourceIndex 是单个源的匹配结果；Err 非空时 Matches 为空，其他源不受影响。
type SourceIndex struct {
	Source  spec.SourceURI
	Matches []spec.Identifier
	Err     error
}

// Fetched 是 FetchAll 产出的一条完整记录。
type Fetched struct {
	Source spec.SourceURI
	Record spec.Record
}

// FindMatching 并发加载所有源的索引，返回满足 query（以及本机平台，若要求）的标识符。
// 结果顺序与配置的源顺序一致。
func (f *Fetcher) FindMatching(ctx context.Context, query spec.Dependency, kind spec.Kind) []SourceIndex {
	results := make([]SourceIndex, len(f.sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, source := range f.sources {
		results[i].Source = source
		g.Go(func() error {
			idx, err := f.ListIndex(gctx, source, kind)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Matches = f.match(idx, query)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *Fetcher) match(idx *spec.Index, query spec.Dependency) []spec.Identifier {
	var out []spec.Identifier
	for _, id := range idx.Identifiers() {
		if !query.Matches(id) {
			continue
		}
		if query.MatchPlatform && !f.platforms.Match(id.Platform) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// FetchAll 对 FindMatching 的每个结果拉取完整记录。每次调用返回新的切片；
// 失败的源被合并进返回的 error 且不贡献任何记录，成功源的记录仍然返回。
func (f *Fetcher) FetchAll(ctx context.Context, query spec.Dependency, kind spec.Kind) ([]Fetched, error) {
	var (
		out  []Fetched
		errs []error
	)
	for _, found := range f.FindMatching(ctx, query, kind) {
		if found.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", found.Source, found.Err))
			continue
		}
		records, err := f.fetchSource(ctx, found)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", found.Source, err))
			continue
		}
		out = append(out, records...)
	}
	return out, errors.Join(errs...)
}

func (f *Fetcher) fetchSource(ctx context.Context, found SourceIndex) ([]Fetched, error) {
	records := make([]Fetched, 0, len(found.Matches))
	for _, id := range found.Matches {
		rec, err := f.FetchFullRecord(ctx, id, found.Source)
		if err != nil {
			return nil, err
		}
		records = append(records, Fetched{Source: found.Source, Record: rec})
	}
	return records, nil
}
