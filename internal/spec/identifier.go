package spec

import (
	"errors"
	"fmt"
	"strings"
)

// PlatformRuby 是默认平台（纯 Ruby、无架构限定），拼接路径时省略。
const PlatformRuby Platform = "ruby"

// Platform 描述包变体的目标运行平台，例如 x86_64-linux。
type Platform string

// IsDefault 空值与 "ruby" 都视为默认平台。
func (p Platform) IsDefault() bool {
	return p == "" || p == PlatformRuby
}

// Normalize 将默认平台统一为空串，避免 "ruby" 与空值在 map 中产生两个 key。
func (p Platform) Normalize() Platform {
	if p.IsDefault() {
		return ""
	}
	return Platform(strings.TrimSpace(string(p)))
}

// Identifier 唯一标识索引中的一条元数据记录。
type Identifier struct {
	Name     string
	Version  string
	Platform Platform
}

// NewIdentifier 构造标识符并规范化平台字段。
func NewIdentifier(name, version string, platform Platform) Identifier {
	return Identifier{
		Name:     strings.TrimSpace(name),
		Version:  strings.TrimSpace(version),
		Platform: platform.Normalize(),
	}
}

// FullName 返回线上格式 name-version[-platform]，与远端 quick 目录的文件名保持一致。
//
// 该编码不可逆：name 或 version 自身包含 "-" 时，解析结果可能与原始字段不同。
func (id Identifier) FullName() string {
	parts := []string{id.Name, id.Version}
	if !id.Platform.IsDefault() {
		parts = append(parts, string(id.Platform))
	}
	return strings.Join(parts, "-")
}

func (id Identifier) String() string {
	return id.FullName()
}

// QuickPath 返回单条记录在远端的相对路径。
func (id Identifier) QuickPath() string {
	return QuickSpecPath(id.FullName())
}

// QuickSpecPath 根据 full name 计算 quick/<full>.gemspec.rz。
func QuickSpecPath(fullName string) string {
	return QuickDir + fullName + ".gemspec.rz"
}

// QuickDir 是远端 quick 资源所在目录。
const QuickDir = "quick/"

// ErrInvalidIdentifier 表示 listing 中的某一行无法解析。
var ErrInvalidIdentifier = errors.New("invalid spec identifier")

// ParseIdentifier 尽力将 name-version[-platform] 还原为结构化字段：
// 从左往右找到第一个以数字开头的片段作为 version，之前的片段拼回 name，
// 之后的片段拼成 platform。name 中含有数字开头片段（例如 foo-2fa）时会解析错误。
func ParseIdentifier(fullName string) (Identifier, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return Identifier{}, fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	parts := strings.Split(fullName, "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" || !isDigit(parts[i][0]) {
			continue
		}
		name := strings.Join(parts[:i], "-")
		if name == "" {
			break
		}
		platform := Platform(strings.Join(parts[i+1:], "-"))
		return NewIdentifier(name, parts[i], platform), nil
	}
	return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, fullName)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// Record 由标识符与不透明的元数据组成。
type Record struct {
	ID       Identifier
	Metadata map[string]any
}

// NewRecord 以给定标识符构造记录，metadata 可以为空。
func NewRecord(id Identifier, metadata map[string]any) Record {
	return Record{ID: NewIdentifier(id.Name, id.Version, id.Platform), Metadata: metadata}
}
