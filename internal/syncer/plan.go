package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/any-hub/gemsync/internal/remote"
	"github.com/any-hub/gemsync/internal/spec"
)

// Plan 是一次同步的预演结果：只探测大小与 listing，不下载记录、不写缓存。
type Plan struct {
	Source     Source
	RemoteSize int64
	// CachedSize 为 -1 表示没有缓存条目。
	CachedSize int64
	Fresh      bool
	// Fallback 表示 listing 不可用，真正同步时会整表下载。
	Fallback       bool
	FallbackReason string
	Added          []string
	Removed        []string
	cached         []string
	remote         []string
	listingName    string
}

// Plan 计算 source 当前的差异。
func (s *Synchronizer) Plan(ctx context.Context, source Source) (*Plan, error) {
	size, err := s.client.Size(ctx, s.fetcher.IndexURL(source.URI, source.Kind))
	if err != nil {
		return nil, fmt.Errorf("probe %s index size: %w", source.Kind.Label(), err)
	}

	plan := &Plan{Source: source, RemoteSize: size, CachedSize: -1, listingName: strings.TrimSuffix(s.listingPath, ".rz")}
	baseline := spec.EmptyIndex()
	prior, ok := s.cache.Get(ctx, source.URI, source.Kind)
	if ok {
		plan.CachedSize = prior.ObservedRemoteSize
		baseline = prior.Index
	}
	plan.cached = sortedNames(baseline)
	if ok && s.cache.IsFresh(prior, size) {
		plan.Fresh = true
		plan.remote = plan.cached
		return plan, nil
	}

	names, err := s.fetchListing(ctx, source.URI)
	if err != nil {
		if !remote.IsUnavailable(err) {
			return nil, err
		}
		plan.Fallback = true
		plan.FallbackReason = err.Error()
		return plan, nil
	}
	plan.Added, plan.Removed = diffNames(baseline, names)
	plan.remote = append([]string(nil), names...)
	sort.Strings(plan.remote)
	return plan, nil
}

// Unified 以 unified diff 展示缓存与远端 listing 的差异；无差异时返回空串。
func (p *Plan) Unified() (string, error) {
	if p.Fresh || p.Fallback {
		return "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        withNewlines(p.cached),
		B:        withNewlines(p.remote),
		FromFile: "cached/" + string(p.Source.Kind),
		ToFile:   "remote/" + p.listingName,
		Context:  1,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// Mode 返回 fresh、fallback 或 diff，供 HTTP 头与 CLI 输出使用。
func (p *Plan) Mode() string {
	switch {
	case p.Fresh:
		return "fresh"
	case p.Fallback:
		return "fallback"
	default:
		return "diff"
	}
}

// Render 返回面向终端的文本：fresh/fallback 时为一行说明，否则为 unified diff。
func (p *Plan) Render() (string, error) {
	switch {
	case p.Fresh:
		return fmt.Sprintf("# %s: fresh, remote size %d unchanged\n", p.Source.label(), p.RemoteSize), nil
	case p.Fallback:
		return fmt.Sprintf("# %s: fallback to full index (%s)\n", p.Source.label(), p.FallbackReason), nil
	}
	diff, err := p.Unified()
	if err != nil {
		return "", err
	}
	if diff == "" {
		return fmt.Sprintf("# %s: no listing changes\n", p.Source.label()), nil
	}
	return diff, nil
}

func sortedNames(idx *spec.Index) []string {
	names := make([]string, 0, idx.Len())
	for name := range idx.FullNames() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line + "\n"
	}
	return out
}
