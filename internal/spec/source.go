package spec

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// SourceURI 描述一个远端索引源（scheme/host/port/base path），结构体可直接比较并作为 map key。
type SourceURI struct {
	Scheme   string
	Host     string
	Port     int
	BasePath string
}

// ParseSourceURI 解析源地址，补齐默认端口，并保证 BasePath 以 "/" 结尾。
func ParseSourceURI(raw string) (SourceURI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SourceURI{}, errors.New("source uri required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return SourceURI{}, fmt.Errorf("parse source uri: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return SourceURI{}, fmt.Errorf("unsupported scheme %q in %s", parsed.Scheme, raw)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return SourceURI{}, fmt.Errorf("source uri missing host: %s", raw)
	}

	port := defaultPort(scheme)
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return SourceURI{}, fmt.Errorf("invalid port in %s", raw)
		}
	}

	base := parsed.Path
	if base == "" {
		base = "/"
	}
	base = path.Clean("/" + base)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	return SourceURI{
		Scheme:   scheme,
		Host:     host,
		Port:     port,
		BasePath: base,
	}, nil
}

// MustParseSourceURI 解析失败时 panic，仅用于测试与常量初始化。
func MustParseSourceURI(raw string) SourceURI {
	uri, err := ParseSourceURI(raw)
	if err != nil {
		panic(err)
	}
	return uri
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// HostPort 返回 host:port，本地缓存目录以此作为第一层。
func (s SourceURI) HostPort() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// String 输出规范化后的 URL，默认端口不会出现在结果中。
func (s SourceURI) String() string {
	host := s.Host
	if s.Port != 0 && s.Port != defaultPort(s.Scheme) {
		host = s.HostPort()
	}
	u := url.URL{Scheme: s.Scheme, Host: host, Path: s.BasePath}
	return u.String()
}

// Resolve 返回 BasePath 下相对资源的绝对 URL。
func (s SourceURI) Resolve(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	host := s.Host
	if s.Port != 0 && s.Port != defaultPort(s.Scheme) {
		host = s.HostPort()
	}
	u := url.URL{Scheme: s.Scheme, Host: host, Path: s.BasePath + rel}
	return u.String()
}

