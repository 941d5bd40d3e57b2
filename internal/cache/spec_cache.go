package cache

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/gemsync/internal/codec"
	"github.com/any-hub/gemsync/internal/spec"
)

const headerFormat = "gemsync-cache v1 size=%d synced=%d"

// Options 控制 SpecCache 的目录、编码与 TTL。
type Options struct {
	BasePath      string
	FormatVersion string
	// TTL 为 0 时 WithinTTL 恒为 false，每次读取都需探测远端大小。
	TTL    time.Duration
	Codec  codec.Codec
	Logger *logrus.Logger
}

// SpecCache 以 basePath 为根目录缓存各源索引，整站复用一份实例。
type SpecCache struct {
	basePath      string
	formatVersion string
	ttl           time.Duration
	codec         codec.Codec
	logger        *logrus.Logger
	now           func() time.Time

	entriesMu sync.RWMutex
	entries   map[Key]*Entry

	mu    sync.Mutex
	locks map[Key]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewSpecCache 创建缓存目录并返回实例。
func NewSpecCache(opts Options) (*SpecCache, error) {
	if opts.BasePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(opts.BasePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	formatVersion := opts.FormatVersion
	if formatVersion == "" {
		formatVersion = spec.DefaultFormatVersion
	}
	c := opts.Codec
	if c == nil {
		c = codec.YAML{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	return &SpecCache{
		basePath:      abs,
		formatVersion: formatVersion,
		ttl:           opts.TTL,
		codec:         c,
		logger:        logger,
		now:           time.Now,
		entries:       make(map[Key]*Entry),
		locks:         make(map[Key]*entryLock),
	}, nil
}

// BasePath 返回缓存根目录的绝对路径。
func (c *SpecCache) BasePath() string {
	return c.basePath
}

// Get 优先返回内存快照，否则尝试加载磁盘文件；文件缺失或损坏都视为未命中。
func (c *SpecCache) Get(ctx context.Context, source spec.SourceURI, kind spec.Kind) (*Entry, bool) {
	key := Key{Source: source, Kind: kind}
	c.entriesMu.RLock()
	entry, ok := c.entries[key]
	c.entriesMu.RUnlock()
	if ok {
		return entry, true
	}
	if ctx.Err() != nil {
		return nil, false
	}

	loaded, err := c.load(key)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.WithFields(logrus.Fields{
				"action": "cache_load",
				"source": source.String(),
				"kind":   kind.Label(),
				"path":   c.Path(source, kind),
			}).Warn(err.Error())
		}
		return nil, false
	}

	c.entriesMu.Lock()
	defer c.entriesMu.Unlock()
	if current, exists := c.entries[key]; exists {
		return current, true
	}
	c.entries[key] = loaded
	return loaded, true
}

// Put 先替换内存快照，再通过临时文件 + rename 落盘。落盘失败返回 *CacheWriteError，
// 此时内存中的条目仍然是最新的。
func (c *SpecCache) Put(ctx context.Context, source spec.SourceURI, kind spec.Kind, entry *Entry) error {
	if entry == nil || entry.Index == nil {
		return ErrInvalidEntry
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := *entry
	stored.Kind = kind
	stored.fromDisk = false
	if stored.SyncedAt.IsZero() {
		stored.SyncedAt = c.now()
	}
	stored.SyncedAt = stored.SyncedAt.UTC()

	key := Key{Source: source, Kind: kind}
	c.entriesMu.Lock()
	c.entries[key] = &stored
	c.entriesMu.Unlock()

	filePath := c.Path(source, kind)
	if err := c.persist(filePath, &stored); err != nil {
		return &CacheWriteError{Path: filePath, Err: err}
	}
	return nil
}

// IsFresh 仅比较记录的远端大小与刚探测到的大小。
func (c *SpecCache) IsFresh(entry *Entry, remoteSize int64) bool {
	return entry != nil && entry.ObservedRemoteSize == remoteSize
}

// WithinTTL 根据 TTL 判断是否可以直接复用内存快照。磁盘加载的条目总是需要重新探测。
func (c *SpecCache) WithinTTL(entry *Entry) bool {
	if entry == nil || entry.fromDisk || c.ttl <= 0 {
		return false
	}
	expireAt := entry.SyncedAt.Add(c.ttl)
	return c.now().Before(expireAt)
}

// Lock 串行化同一 (source, kind) 的读写，返回的函数用于释放锁。
func (c *SpecCache) Lock(source spec.SourceURI, kind spec.Kind) func() {
	key := Key{Source: source, Kind: kind}
	c.mu.Lock()
	lock := c.locks[key]
	if lock == nil {
		lock = &entryLock{}
		c.locks[key] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		c.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}

// Snapshot 返回内存中全部条目的概况，按 source + kind 排序。
func (c *SpecCache) Snapshot() []SnapshotItem {
	c.entriesMu.RLock()
	items := make([]SnapshotItem, 0, len(c.entries))
	for key, entry := range c.entries {
		items = append(items, SnapshotItem{
			Source:     key.Source.String(),
			Kind:       key.Kind,
			RemoteSize: entry.ObservedRemoteSize,
			Records:    entry.Index.Len(),
			SyncedAt:   entry.SyncedAt,
			Path:       c.Path(key.Source, key.Kind),
		})
	}
	c.entriesMu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Source != items[j].Source {
			return items[i].Source < items[j].Source
		}
		return items[i].Kind < items[j].Kind
	})
	return items
}

// Path 返回 (source, kind) 对应的缓存文件路径。
func (c *SpecCache) Path(source spec.SourceURI, kind spec.Kind) string {
	rel := strings.Trim(source.BasePath, "/")
	return filepath.Join(c.basePath, source.HostPort(), filepath.FromSlash(rel), kind.FileName(c.formatVersion))
}

func (c *SpecCache) load(key Key) (*Entry, error) {
	data, err := os.ReadFile(c.Path(key.Source, key.Kind))
	if err != nil {
		return nil, err
	}

	reader := bufio.NewReader(bytes.NewReader(data))
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read cache header: %w", err)
	}
	var size, synced int64
	if _, err := fmt.Sscanf(strings.TrimSpace(header), headerFormat, &size, &synced); err != nil {
		return nil, fmt.Errorf("parse cache header: %w", err)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	idx, err := c.codec.DecodeIndex(body)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Index:              idx,
		ObservedRemoteSize: size,
		Kind:               key.Kind,
		SyncedAt:           time.Unix(synced, 0).UTC(),
		fromDisk:           true,
	}, nil
}

func (c *SpecCache) persist(filePath string, entry *Entry) error {
	body, err := c.codec.EncodeIndex(entry.Index)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = fmt.Fprintf(tempFile, headerFormat+"\n", entry.ObservedRemoteSize, entry.SyncedAt.Unix())
	if err == nil {
		_, err = tempFile.Write(body)
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}

	return os.Chtimes(filePath, entry.SyncedAt, entry.SyncedAt)
}
