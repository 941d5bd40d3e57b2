package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/any-hub/gemsync/internal/spec"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(fixture("valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	g := cfg.Global
	if g.ListenPort != 5100 || g.LogLevel != "debug" {
		t.Fatalf("显式字段未被解析: %+v", g)
	}
	if g.SyncInterval.DurationValue() != 10*time.Minute {
		t.Fatalf("SyncInterval 解析错误: %v", g.SyncInterval.DurationValue())
	}
	if g.IndexFormatVersion != spec.DefaultFormatVersion || g.QuickIndexPath != "quick/index.rz" {
		t.Fatalf("索引路径默认值缺失: %+v", g)
	}
	if g.RecordCacheSize == 0 || g.SyncConcurrency == 0 || g.UpstreamTimeout.DurationValue() == 0 {
		t.Fatalf("数值默认值缺失: %+v", g)
	}
	if g.CacheTTL.DurationValue() != 0 {
		t.Fatalf("CacheTTL 默认应为 0（每次都探测大小）")
	}
	if !strings.HasPrefix(g.StoragePath, "/") {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", g.StoragePath)
	}
	if len(g.Platforms) != 1 || g.Platforms[0] != "x86_64-linux" {
		t.Fatalf("Platforms 解析错误: %v", g.Platforms)
	}

	if len(cfg.Sources) != 2 {
		t.Fatalf("应解析出 2 个源，实际 %d", len(cfg.Sources))
	}
	if cfg.Sources[0].IndexKind() != spec.KindAll {
		t.Fatalf("未设置 Kind 时应为全量索引")
	}
	internal, ok := cfg.FindSource("internal")
	if !ok || internal.IndexKind() != spec.KindLatest {
		t.Fatalf("internal 源应为 latest 索引: %+v", internal)
	}
	uri, err := internal.SourceURI()
	if err != nil {
		t.Fatalf("解析源地址失败: %v", err)
	}
	if uri.HostPort() != "gems.internal.example:8808" || uri.BasePath != "/mirror/" {
		t.Fatalf("源地址解析错误: %+v", uri)
	}
	modes := CredentialModes(cfg.Sources)
	if modes[0] != "rubygems:anonymous" || modes[1] != "internal:credentialed" {
		t.Fatalf("鉴权模式摘要错误: %v", modes)
	}
}

func TestValidateRejectsBadSource(t *testing.T) {
	_, err := Load(fixture("missing.toml"))
	var fe FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("缺少 URL 应返回 FieldError，实际: %v", err)
	}
	if fe.Field != "Source[rubygems].URL" {
		t.Fatalf("字段路径错误: %s", fe.Field)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestSourceValidation(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*SourceConfig)
		field     string
		shouldErr bool
	}{
		{"ok", func(*SourceConfig) {}, "", false},
		{"latest ok", func(s *SourceConfig) { s.Kind = "latest" }, "", false},
		{"missing name", func(s *SourceConfig) { s.Name = "" }, "Source[].Name", true},
		{"name with slash", func(s *SourceConfig) { s.Name = "a/b" }, "Source[a/b].Name", true},
		{"bad url", func(s *SourceConfig) { s.URL = "ftp://gems.example.com" }, "Source[rubygems].URL", true},
		{"bad kind", func(s *SourceConfig) { s.Kind = "prerelease" }, "Source[rubygems].Kind", true},
		{"bad proxy", func(s *SourceConfig) { s.Proxy = "not a url" }, "Source[rubygems].Proxy", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg.Sources[0])
			err := cfg.Validate()
			if !tc.shouldErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var fe FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fe.Field != tc.field {
				t.Fatalf("expected field %s, got %s (%s)", tc.field, fe.Field, fe.Reason)
			}
		})
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := validConfig()
	cfg.Sources = append(cfg.Sources, cfg.Sources[0])
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "重复") {
		t.Fatalf("重复名称应报错: %v", err)
	}
}

func TestValidateRequiresCredentialPairs(t *testing.T) {
	cfg := validConfig()
	cfg.Sources[0].Username = "foo"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("仅提供 Username 时应报错")
	}
}

func TestValidateRejectsEscapingListingPath(t *testing.T) {
	cfg := validConfig()
	cfg.Global.QuickIndexPath = "../index.rz"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("越界的 QuickIndexPath 应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:         5000,
			StoragePath:        "./data",
			RecordCacheSize:    16,
			MaxRetries:         1,
			InitialBackoff:     Duration(time.Second),
			UpstreamTimeout:    Duration(time.Second),
			SyncInterval:       Duration(time.Minute),
			SyncConcurrency:    2,
			IndexFormatVersion: "4.8",
			QuickIndexPath:     "quick/index.rz",
		},
		Sources: []SourceConfig{
			{
				Name: "rubygems",
				URL:  "https://rubygems.org/",
				Kind: "all",
			},
		},
	}
}
