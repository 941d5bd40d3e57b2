package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/any-hub/gemsync/internal/spec"
)

// Entry 是某个 (source, kind) 最近一次成功同步的快照，写入后不再修改。
//
// 磁盘布局遵循：
//
//	<StoragePath>/<host:port>/<base path>/<kind>.<formatVersion>
//
// 文件首行为 "gemsync-cache v1 size=<N> synced=<unix>"，其后是编码后的索引。
type Entry struct {
	Index              *spec.Index
	ObservedRemoteSize int64
	Kind               spec.Kind
	SyncedAt           time.Time
	// fromDisk 标记由磁盘加载的条目，这类条目不参与 TTL 复用。
	fromDisk bool
}

// Key 唯一定位一个缓存条目。ALL 与 LATEST 互相独立。
type Key struct {
	Source spec.SourceURI
	Kind   spec.Kind
}

func (k Key) String() string {
	return k.Source.String() + "#" + string(k.Kind)
}

// SnapshotItem 供诊断接口展示缓存概况。
type SnapshotItem struct {
	Source     string    `json:"source"`
	Kind       spec.Kind `json:"kind"`
	RemoteSize int64     `json:"remote_size"`
	Records    int       `json:"records"`
	SyncedAt   time.Time `json:"synced_at"`
	Path       string    `json:"path"`
}

// ErrInvalidEntry 表示 Put 收到了空条目。
var ErrInvalidEntry = errors.New("cache entry requires an index")

// CacheWriteError 表示内存快照已更新但落盘失败。调用方记录日志后继续。
type CacheWriteError struct {
	Path string
	Err  error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("persist cache %s: %v", e.Path, e.Err)
}

func (e *CacheWriteError) Unwrap() error {
	return e.Err
}

// IsWriteError reports whether err is a CacheWriteError.
func IsWriteError(err error) bool {
	var target *CacheWriteError
	return errors.As(err, &target)
}
