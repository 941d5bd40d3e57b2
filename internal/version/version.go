package version

import "fmt"

// Name 是产品名，出现在 CLI 输出、日志 service 字段与 User-Agent 中。
const Name = "gemsync"

// Version/Commit 可在构建时通过 -ldflags 注入。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 CLI 展示用的版本串，例如 "gemsync 0.1.0 (dev)"。
func Full() string {
	return fmt.Sprintf("%s %s (%s)", Name, Version, Commit)
}

// UserAgent 返回访问上游源时携带的标识，例如 "gemsync/0.1.0"。
func UserAgent() string {
	return Name + "/" + Version
}
