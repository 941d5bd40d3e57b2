package spec

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/hashicorp/go-version"
)

// Dependency 描述一次查询：包名、版本约束，以及是否只保留匹配本机平台的变体。
type Dependency struct {
	Name          string
	Constraints   version.Constraints
	MatchPlatform bool
}

// NewDependency 解析形如 ">= 1.0"、"~> 2.1" 的约束；不传约束表示任意版本。
func NewDependency(name string, requirements ...string) (Dependency, error) {
	dep := Dependency{Name: strings.TrimSpace(name), MatchPlatform: true}
	for _, req := range requirements {
		req = strings.TrimSpace(req)
		if req == "" {
			continue
		}
		c, err := version.NewConstraint(req)
		if err != nil {
			return Dependency{}, fmt.Errorf("parse requirement %q: %w", req, err)
		}
		dep.Constraints = append(dep.Constraints, c...)
	}
	return dep, nil
}

// Matches 判断 name/version 是否满足查询；平台过滤由 PlatformMatcher 负责。
// 空 Name 匹配所有包；无法解析的版本只在没有约束时匹配。
func (d Dependency) Matches(id Identifier) bool {
	if d.Name != "" && d.Name != id.Name {
		return false
	}
	if len(d.Constraints) == 0 {
		return true
	}
	v, err := version.NewVersion(id.Version)
	if err != nil {
		return false
	}
	return d.Constraints.Check(v)
}

func (d Dependency) String() string {
	if len(d.Constraints) == 0 {
		return d.Name
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Constraints.String())
}

// PlatformMatcher 保存本机可安装的平台集合。默认平台总是匹配。
type PlatformMatcher struct {
	local map[Platform]struct{}
}

// NewPlatformMatcher 以给定平台列表构建匹配器；列表为空时使用 LocalPlatforms。
func NewPlatformMatcher(platforms ...string) PlatformMatcher {
	if len(platforms) == 0 {
		platforms = LocalPlatforms()
	}
	m := PlatformMatcher{local: make(map[Platform]struct{}, len(platforms))}
	for _, p := range platforms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		m.local[Platform(p).Normalize()] = struct{}{}
	}
	return m
}

// Match reports whether a record built for p can run locally.
func (m PlatformMatcher) Match(p Platform) bool {
	if p.IsDefault() {
		return true
	}
	_, ok := m.local[p.Normalize()]
	return ok
}

// LocalPlatforms 根据 GOOS/GOARCH 推导 gem 风格的平台名。
func LocalPlatforms() []string {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "386":
		arch = "x86"
	case "arm64":
		if runtime.GOOS == "linux" {
			arch = "aarch64"
		}
	}

	var platforms []string
	switch runtime.GOOS {
	case "windows":
		platforms = append(platforms, arch+"-mingw32", arch+"-mswin32")
		if arch == "x86_64" {
			platforms = append(platforms, "x64-mingw32", "x64-mingw-ucrt")
		}
	case "linux":
		platforms = append(platforms, arch+"-linux", arch+"-linux-gnu")
	default:
		platforms = append(platforms, arch+"-"+runtime.GOOS)
	}
	return append([]string{string(PlatformRuby)}, platforms...)
}
