package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/gemsync/internal/spec"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述全局运行时行为，所有源共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	CacheTTL        Duration `mapstructure:"CacheTTL"`
	RecordCacheSize int      `mapstructure:"RecordCacheSize"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	SyncInterval    Duration `mapstructure:"SyncInterval"`
	SyncConcurrency int      `mapstructure:"SyncConcurrency"`
	// IndexFormatVersion 出现在远端与本地索引文件名中，例如 specs.4.8.gz。
	IndexFormatVersion string   `mapstructure:"IndexFormatVersion"`
	QuickIndexPath     string   `mapstructure:"QuickIndexPath"`
	Platforms          []string `mapstructure:"Platforms"`
	OTLPEndpoint       string   `mapstructure:"OTLPEndpoint"`
}

// SourceConfig 描述一个远端索引源。结构体标签交给 validator 做基础校验。
type SourceConfig struct {
	Name     string `mapstructure:"Name" validate:"required,max=64,source_name"`
	URL      string `mapstructure:"URL" validate:"required,url,startswith=http"`
	Proxy    string `mapstructure:"Proxy" validate:"omitempty,url"`
	Username string `mapstructure:"Username"`
	Password string `mapstructure:"Password"`
	Kind     string `mapstructure:"Kind" validate:"omitempty,oneof=all latest"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Sources []SourceConfig `mapstructure:"Source"`
}

// HasCredentials 表示当前源是否配置了完整的上游凭证。
func (s SourceConfig) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (s SourceConfig) AuthMode() string {
	if s.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// SourceURI 解析 URL 字段；假定 Validate 已经通过。
func (s SourceConfig) SourceURI() (spec.SourceURI, error) {
	return spec.ParseSourceURI(s.URL)
}

// IndexKind 将 all/latest 映射为索引类型，留空时为全量索引。
func (s SourceConfig) IndexKind() spec.Kind {
	kind, err := spec.ParseKind(s.Kind)
	if err != nil {
		return spec.KindAll
	}
	return kind
}

// CredentialModes 返回所有源的鉴权模式摘要，例如 internal:credentialed。
func CredentialModes(sources []SourceConfig) []string {
	if len(sources) == 0 {
		return nil
	}
	result := make([]string, len(sources))
	for i, source := range sources {
		result[i] = fmt.Sprintf("%s:%s", source.Name, source.AuthMode())
	}
	return result
}

// FindSource 按名称查找源配置。
func (c *Config) FindSource(name string) (SourceConfig, bool) {
	for _, source := range c.Sources {
		if source.Name == name {
			return source, true
		}
	}
	return SourceConfig{}, false
}
