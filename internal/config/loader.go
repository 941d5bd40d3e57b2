package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/gemsync/internal/spec"
)

const (
	defaultListenPort     = 5000
	defaultRecordCache    = 4096
	defaultSyncInterval   = 30 * time.Minute
	defaultConcurrency    = 4
	defaultQuickIndexPath = "quick/index.rz"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectSourceLevelGlobals(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Sources {
		applySourceDefaults(&cfg.Sources[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheTTL", "0s")
	v.SetDefault("RecordCacheSize", defaultRecordCache)
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("SyncInterval", "30m")
	v.SetDefault("SyncConcurrency", defaultConcurrency)
	v.SetDefault("IndexFormatVersion", spec.DefaultFormatVersion)
	v.SetDefault("QuickIndexPath", defaultQuickIndexPath)
	v.SetDefault("OTLPEndpoint", "")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = defaultListenPort
	}
	if g.RecordCacheSize == 0 {
		g.RecordCacheSize = defaultRecordCache
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.SyncInterval.DurationValue() == 0 {
		g.SyncInterval = Duration(defaultSyncInterval)
	}
	if g.SyncConcurrency == 0 {
		g.SyncConcurrency = defaultConcurrency
	}
	g.IndexFormatVersion = strings.TrimSpace(g.IndexFormatVersion)
	if g.IndexFormatVersion == "" {
		g.IndexFormatVersion = spec.DefaultFormatVersion
	}
	g.QuickIndexPath = strings.TrimSpace(g.QuickIndexPath)
	if g.QuickIndexPath == "" {
		g.QuickIndexPath = defaultQuickIndexPath
	}
	g.LogLevel = strings.ToLower(strings.TrimSpace(g.LogLevel))
}

func applySourceDefaults(s *SourceConfig) {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	if s.Kind == "" {
		s.Kind = "all"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// globalOnlyKeys 只能出现在顶层，写在 [[Source]] 中会被静默忽略，因此直接报错。
var globalOnlyKeys = []string{"ListenPort", "CacheTTL", "StoragePath", "IndexFormatVersion", "QuickIndexPath"}

func rejectSourceLevelGlobals(v *viper.Viper) error {
	raw := v.Get("Source")
	sources, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range sources {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range globalOnlyKeys {
			if !hasKeyFold(m, key) {
				continue
			}
			name := fmt.Sprintf("#%d", idx)
			for k, val := range m {
				if rawName, ok := val.(string); ok && rawName != "" && strings.EqualFold(k, "Name") {
					name = rawName
				}
			}
			return newFieldError(sourceField(name, key), "仅支持全局配置")
		}
	}

	return nil
}

func hasKeyFold(m map[string]interface{}, key string) bool {
	for k := range m {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
