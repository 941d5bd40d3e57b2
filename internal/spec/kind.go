package spec

import (
	"fmt"
	"strings"
)

// Kind 区分全量索引与仅含最新版本的索引；两者在缓存中互相独立。
type Kind string

const (
	KindAll    Kind = "specs"
	KindLatest Kind = "latest_specs"
)

// DefaultFormatVersion 是索引序列化格式版本，体现在文件名中。
const DefaultFormatVersion = "4.8"

// ParseKind 接受配置中的 all/latest 写法，也接受文件名前缀本身。
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all", string(KindAll):
		return KindAll, nil
	case "latest", string(KindLatest):
		return KindLatest, nil
	default:
		return "", fmt.Errorf("unknown index kind: %s", raw)
	}
}

// FileName 返回本地缓存文件名，例如 specs.4.8。
func (k Kind) FileName(formatVersion string) string {
	if formatVersion == "" {
		formatVersion = DefaultFormatVersion
	}
	return string(k) + "." + formatVersion
}

// RemoteName 返回远端 gzip 压缩的索引文件名，例如 specs.4.8.gz。
func (k Kind) RemoteName(formatVersion string) string {
	return k.FileName(formatVersion) + ".gz"
}

// Label 用于日志与指标标签。
func (k Kind) Label() string {
	if k == KindLatest {
		return "latest"
	}
	return "all"
}
