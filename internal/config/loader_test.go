package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fixture 返回 testdata 下的样例配置路径。
func fixture(name string) string {
	return filepath.Join("testdata", name)
}

// writeTOML 将配置正文写入临时目录中的 gemsync.toml。
func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gemsync.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func TestLoadFailsWithMissingFile(t *testing.T) {
	if _, err := Load(fixture("absent.toml")); err == nil {
		t.Fatalf("不存在的配置文件应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
SyncInterval = "boom"

[[Source]]
Name = "rubygems"
URL = "https://rubygems.org/"
`
	path := writeTOML(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsIntegerSeconds(t *testing.T) {
	cfg := `
StoragePath = "./data"
CacheTTL = 90
UpstreamTimeout = "2.5"

[[Source]]
Name = "rubygems"
URL = "https://rubygems.org/"
Kind = "LATEST"
`
	loaded, err := Load(writeTOML(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.CacheTTL.DurationValue() != 90*time.Second {
		t.Fatalf("整数秒应被解析: %v", loaded.Global.CacheTTL.DurationValue())
	}
	if loaded.Global.UpstreamTimeout.DurationValue() != 2500*time.Millisecond {
		t.Fatalf("小数秒应被解析: %v", loaded.Global.UpstreamTimeout.DurationValue())
	}
	if loaded.Sources[0].Kind != "latest" {
		t.Fatalf("Kind 应被规范为小写: %s", loaded.Sources[0].Kind)
	}
}

func TestLoadRejectsSourceLevelGlobals(t *testing.T) {
	cfg := `
StoragePath = "./data"

[[Source]]
Name = "rubygems"
URL = "https://rubygems.org/"
CacheTTL = "1h"
`
	_, err := Load(writeTOML(t, cfg))
	if err == nil || !strings.Contains(err.Error(), "Source[rubygems].CacheTTL") {
		t.Fatalf("源级 CacheTTL 应被拒绝: %v", err)
	}
}

func TestLoadRequiresSources(t *testing.T) {
	if _, err := Load(writeTOML(t, "StoragePath = \"./data\"\n")); err == nil {
		t.Fatalf("没有 Source 时应报错")
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("45")); err != nil || d.DurationValue() != 45*time.Second {
		t.Fatalf("纯数字应按秒解析: %v %v", d.DurationValue(), err)
	}
	if err := d.UnmarshalText([]byte("1m30s")); err != nil || d.DurationValue() != 90*time.Second {
		t.Fatalf("Go Duration 应被解析: %v %v", d.DurationValue(), err)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatalf("非法值应报错")
	}
}
