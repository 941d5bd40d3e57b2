// Package remotetest provides an in-memory remote.Client for tests. It serves
// scripted bodies per URL, can inject failures and counts every call so tests
// can assert which resources were touched.
package remotetest

import (
	"context"
	"sync"
	"testing"

	"github.com/any-hub/gemsync/internal/codec"
	"github.com/any-hub/gemsync/internal/remote"
	"github.com/any-hub/gemsync/internal/spec"
)

// Fake 是线程安全的脚本化远端。
type Fake struct {
	mu         sync.Mutex
	bodies     map[string][]byte
	sizes      map[string]int64
	errs       map[string]error
	sizeCalls  map[string]int
	fetchCalls map[string]int
}

var _ remote.Client = (*Fake)(nil)

// New 返回空的 Fake，所有 URL 默认 404。
func New() *Fake {
	f := &Fake{
		bodies: make(map[string][]byte),
		sizes:  make(map[string]int64),
		errs:   make(map[string]error),
	}
	f.ResetCalls()
	return f
}

// Set 设置 uri 的正文。
func (f *Fake) Set(uri string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[uri] = body
	delete(f.errs, uri)
}

// SetSize 覆盖 Size 的返回值，不影响正文。
func (f *Fake) SetSize(uri string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[uri] = size
}

// Fail 让 uri 的 Size 与 FetchPath 都返回 err。
func (f *Fake) Fail(uri string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[uri] = err
}

// Remove 删除 uri 的正文与脚本化错误，之后访问返回 NotFoundError。
func (f *Fake) Remove(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bodies, uri)
	delete(f.sizes, uri)
	delete(f.errs, uri)
}

// ResetCalls 清空调用计数。
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizeCalls = make(map[string]int)
	f.fetchCalls = make(map[string]int)
}

func (f *Fake) Size(ctx context.Context, uri string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &remote.NetworkError{URL: uri, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizeCalls[uri]++
	if err, ok := f.errs[uri]; ok {
		return 0, err
	}
	if size, ok := f.sizes[uri]; ok {
		return size, nil
	}
	body, ok := f.bodies[uri]
	if !ok {
		return 0, &remote.NotFoundError{URL: uri}
	}
	return int64(len(body)), nil
}

func (f *Fake) FetchPath(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &remote.NetworkError{URL: uri, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls[uri]++
	if err, ok := f.errs[uri]; ok {
		return nil, err
	}
	body, ok := f.bodies[uri]
	if !ok {
		return nil, &remote.NotFoundError{URL: uri}
	}
	return append([]byte(nil), body...), nil
}

// SizeCalls 返回 uri 被探测大小的次数。
func (f *Fake) SizeCalls(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sizeCalls[uri]
}

// FetchCalls 返回 uri 被下载的次数。
func (f *Fake) FetchCalls(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[uri]
}

// TotalFetches 返回所有 URL 的下载次数之和。
func (f *Fake) TotalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.fetchCalls {
		total += n
	}
	return total
}

// PublishIndex 以 gzip + YAML 形式发布整表索引，返回压缩后的字节数。
func (f *Fake) PublishIndex(tb testing.TB, source spec.SourceURI, kind spec.Kind, idx *spec.Index) int64 {
	tb.Helper()
	raw, err := codec.YAML{}.EncodeIndex(idx)
	if err != nil {
		tb.Fatalf("encode index: %v", err)
	}
	blob, err := codec.Gzip(raw)
	if err != nil {
		tb.Fatalf("gzip index: %v", err)
	}
	f.Set(source.Resolve(kind.RemoteName(spec.DefaultFormatVersion)), blob)
	return int64(len(blob))
}

// PublishListing 发布 quick/index.rz。
func (f *Fake) PublishListing(tb testing.TB, source spec.SourceURI, names ...string) {
	tb.Helper()
	blob, err := codec.Deflate(codec.EncodeListing(names))
	if err != nil {
		tb.Fatalf("deflate listing: %v", err)
	}
	f.Set(source.Resolve(ListingPath), blob)
}

// PublishRecord 发布 quick/<full name>.gemspec.rz。
func (f *Fake) PublishRecord(tb testing.TB, source spec.SourceURI, rec spec.Record) {
	tb.Helper()
	raw, err := codec.YAML{}.EncodeRecord(rec)
	if err != nil {
		tb.Fatalf("encode record: %v", err)
	}
	blob, err := codec.Deflate(raw)
	if err != nil {
		tb.Fatalf("deflate record: %v", err)
	}
	f.Set(source.Resolve(rec.ID.QuickPath()), blob)
}

// ListingPath 是默认的 quick 索引路径。
const ListingPath = "quick/index.rz"
