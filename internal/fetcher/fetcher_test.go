package fetcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/any-hub/gemsync/internal/cache"
	"github.com/any-hub/gemsync/internal/codec"
	"github.com/any-hub/gemsync/internal/remote"
	"github.com/any-hub/gemsync/internal/remote/remotetest"
	"github.com/any-hub/gemsync/internal/spec"
)

var (
	primary   = spec.MustParseSourceURI("http://gems.example.com/")
	secondary = spec.MustParseSourceURI("http://mirror.example.com:8808/gems")
)

func record(t *testing.T, fullName string) spec.Record {
	t.Helper()
	id, err := spec.ParseIdentifier(fullName)
	if err != nil {
		t.Fatalf("parse %s: %v", fullName, err)
	}
	return spec.NewRecord(id, map[string]any{"summary": fullName})
}

func index(t *testing.T, names ...string) *spec.Index {
	t.Helper()
	records := make([]spec.Record, 0, len(names))
	for _, name := range names {
		records = append(records, record(t, name))
	}
	return spec.NewIndex(records...)
}

func newTestFetcher(t *testing.T, client remote.Client, ttl time.Duration, sources ...spec.SourceURI) (*Fetcher, *cache.SpecCache) {
	t.Helper()
	store, err := cache.NewSpecCache(cache.Options{BasePath: t.TempDir(), TTL: ttl})
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	f, err := New(Options{
		Client:    client,
		Cache:     store,
		Sources:   sources,
		Platforms: []string{"ruby", "x86_64-linux"},
	})
	if err != nil {
		t.Fatalf("create fetcher: %v", err)
	}
	return f, store
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("missing client should fail")
	}
	if _, err := New(Options{Client: remotetest.New()}); err == nil {
		t.Fatalf("missing cache should fail")
	}
}

func TestListIndexFetchesAndCaches(t *testing.T) {
	fake := remotetest.New()
	size := fake.PublishIndex(t, primary, spec.KindAll, index(t, "a-1.0", "b-2.0"))
	f, store := newTestFetcher(t, fake, 0, primary)
	indexURL := f.IndexURL(primary, spec.KindAll)

	idx, err := f.ListIndex(context.Background(), primary, spec.KindAll)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("unexpected index size %d", idx.Len())
	}
	entry, ok := store.Get(context.Background(), primary, spec.KindAll)
	if !ok || entry.ObservedRemoteSize != size {
		t.Fatalf("entry should record compressed size %d: %+v", size, entry)
	}
	if fake.SizeCalls(indexURL) != 0 {
		t.Fatalf("no probe is needed without a cached entry")
	}

	// 远端大小未变：只探测不下载。
	again, err := f.ListIndex(context.Background(), primary, spec.KindAll)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if again != idx {
		t.Fatalf("fresh cache should return the cached index")
	}
	if fake.FetchCalls(indexURL) != 1 || fake.SizeCalls(indexURL) != 1 {
		t.Fatalf("unexpected calls fetch=%d size=%d", fake.FetchCalls(indexURL), fake.SizeCalls(indexURL))
	}

	// 远端变化：重新下载并替换。
	fake.PublishIndex(t, primary, spec.KindAll, index(t, "a-1.0", "b-2.0", "c-3.0"))
	updated, err := f.ListIndex(context.Background(), primary, spec.KindAll)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if updated.Len() != 3 || fake.FetchCalls(indexURL) != 2 {
		t.Fatalf("changed remote should be refetched, got %d records", updated.Len())
	}
}

func TestListIndexWithinTTLSkipsProbe(t *testing.T) {
	fake := remotetest.New()
	fake.PublishIndex(t, primary, spec.KindLatest, index(t, "a-1.0"))
	f, _ := newTestFetcher(t, fake, time.Hour, primary)

	for i := 0; i < 3; i++ {
		if _, err := f.ListIndex(context.Background(), primary, spec.KindLatest); err != nil {
			t.Fatalf("list index: %v", err)
		}
	}
	indexURL := f.IndexURL(primary, spec.KindLatest)
	if fake.SizeCalls(indexURL) != 0 || fake.FetchCalls(indexURL) != 1 {
		t.Fatalf("ttl hit should not touch the network, size=%d fetch=%d", fake.SizeCalls(indexURL), fake.FetchCalls(indexURL))
	}
}

func TestListIndexPropagatesErrors(t *testing.T) {
	fake := remotetest.New()
	f, _ := newTestFetcher(t, fake, 0, primary)
	_, err := f.ListIndex(context.Background(), primary, spec.KindAll)
	if !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("missing index should surface NotFoundError, got %v", err)
	}

	fake.Set(f.IndexURL(primary, spec.KindAll), []byte("not gzip"))
	_, err = f.ListIndex(context.Background(), primary, spec.KindAll)
	if !codec.IsDecodeError(err) {
		t.Fatalf("corrupt index should surface DecodeError, got %v", err)
	}
}

func TestFetchFullRecordUsesQuickPathAndMemoizes(t *testing.T) {
	fake := remotetest.New()
	rec := record(t, "nokogiri-1.16.0-x86_64-linux")
	fake.PublishRecord(t, primary, rec)
	f, _ := newTestFetcher(t, fake, 0, primary)

	got, err := f.FetchFullRecord(context.Background(), rec.ID, primary)
	if err != nil {
		t.Fatalf("fetch record: %v", err)
	}
	if got.ID != rec.ID || got.Metadata["summary"] != "nokogiri-1.16.0-x86_64-linux" {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, err := f.FetchFullRecord(context.Background(), rec.ID, primary); err != nil {
		t.Fatalf("fetch record: %v", err)
	}
	quickURL := primary.Resolve("quick/nokogiri-1.16.0-x86_64-linux.gemspec.rz")
	if fake.FetchCalls(quickURL) != 1 {
		t.Fatalf("record should be memoized, got %d fetches", fake.FetchCalls(quickURL))
	}
}

func TestFetchFullRecordErrors(t *testing.T) {
	fake := remotetest.New()
	f, _ := newTestFetcher(t, fake, 0, primary)
	id := spec.NewIdentifier("missing", "1.0", "")
	if _, err := f.FetchFullRecord(context.Background(), id, primary); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	fake.Set(primary.Resolve(id.QuickPath()), []byte("garbage"))
	if _, err := f.FetchFullRecord(context.Background(), id, primary); !codec.IsDecodeError(err) {
		t.Fatalf("expected DecodeError, got %v", err)
	}

	fake.Fail(primary.Resolve(id.QuickPath()), &remote.NetworkError{URL: "x", Status: 500})
	var netErr *remote.NetworkError
	if _, err := f.FetchFullRecord(context.Background(), id, primary); !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestFindMatchingFiltersAndIsolatesFailures(t *testing.T) {
	fake := remotetest.New()
	fake.PublishIndex(t, primary, spec.KindAll, index(t, "a-1.0", "a-1.5", "a-2.0", "a-1.5-java", "a-1.5-x86_64-linux", "b-1.0"))
	f, _ := newTestFetcher(t, fake, 0, primary, secondary)

	query, err := spec.NewDependency("a", "~> 1.0")
	if err != nil {
		t.Fatalf("dependency: %v", err)
	}
	results := f.FindMatching(context.Background(), query, spec.KindAll)
	if len(results) != 2 {
		t.Fatalf("expected one result per source, got %d", len(results))
	}
	if results[0].Source != primary || results[0].Err != nil {
		t.Fatalf("primary should succeed: %+v", results[0])
	}
	var names []string
	for _, id := range results[0].Matches {
		names = append(names, id.FullName())
	}
	if got := strings.Join(names, ","); got != "a-1.0,a-1.5,a-1.5-x86_64-linux" {
		t.Fatalf("unexpected matches %s", got)
	}
	if results[1].Source != secondary || !errors.Is(results[1].Err, remote.ErrNotFound) {
		t.Fatalf("secondary should fail independently: %+v", results[1])
	}

	query.MatchPlatform = false
	results = f.FindMatching(context.Background(), query, spec.KindAll)
	if len(results[0].Matches) != 4 {
		t.Fatalf("platform filter disabled should include java, got %v", results[0].Matches)
	}
}

func TestFetchAllDropsPartiallyFetchedSource(t *testing.T) {
	fake := remotetest.New()
	fake.PublishIndex(t, primary, spec.KindAll, index(t, "a-1.0", "a-1.1", "a-1.2"))
	fake.PublishRecord(t, primary, record(t, "a-1.0"))
	fake.PublishRecord(t, primary, record(t, "a-1.1"))
	fake.PublishIndex(t, secondary, spec.KindAll, index(t, "a-2.0"))
	fake.PublishRecord(t, secondary, record(t, "a-2.0"))
	f, _ := newTestFetcher(t, fake, 0, primary, secondary)

	query, _ := spec.NewDependency("a")
	got, err := f.FetchAll(context.Background(), query, spec.KindAll)
	if err == nil || !strings.Contains(err.Error(), primary.String()) {
		t.Fatalf("missing record should fail the primary source, got %v", err)
	}
	if len(got) != 1 || got[0].Source != secondary || got[0].Record.ID.FullName() != "a-2.0" {
		t.Fatalf("only the complete secondary source should be returned, got %+v", got)
	}
}

func TestFetchAllJoinsSourceErrors(t *testing.T) {
	fake := remotetest.New()
	fake.PublishIndex(t, primary, spec.KindAll, index(t, "a-1.0", "a-1.1"))
	fake.PublishRecord(t, primary, record(t, "a-1.0"))
	fake.PublishRecord(t, primary, record(t, "a-1.1"))
	f, _ := newTestFetcher(t, fake, 0, primary, secondary)

	query, _ := spec.NewDependency("a")
	first, err := f.FetchAll(context.Background(), query, spec.KindAll)
	if err == nil || !strings.Contains(err.Error(), secondary.String()) {
		t.Fatalf("secondary failure should be reported, got %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("primary records should still be returned, got %d", len(first))
	}

	second, _ := f.FetchAll(context.Background(), query, spec.KindAll)
	if len(second) != 2 {
		t.Fatalf("fetch all should be restartable, got %d", len(second))
	}
	if &first[0] == &second[0] {
		t.Fatalf("each call should return a fresh slice")
	}
}
