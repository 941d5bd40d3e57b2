// Package remote wraps the transport used to talk to package index sources.
// The Client interface is the only capability the fetcher and synchronizer
// depend on; HTTPClient implements it over net/http and Mux dispatches to a
// per-source client so each source can carry its own proxy and credentials.
package remote

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Client 返回远端资源的字节数或原始内容。
type Client interface {
	// Size 返回资源的字节数，不下载正文。
	Size(ctx context.Context, uri string) (int64, error)
	// FetchPath 下载资源正文。
	FetchPath(ctx context.Context, uri string) ([]byte, error)
}

// Mux 按 URL 前缀将请求分派给对应源的 Client，未匹配时使用 fallback。
type Mux struct {
	mu       sync.RWMutex
	routes   map[string]Client
	prefixes []string
	fallback Client
}

var _ Client = (*Mux)(nil)

// NewMux 创建分派器，fallback 可以为空。
func NewMux(fallback Client) *Mux {
	return &Mux{routes: make(map[string]Client), fallback: fallback}
}

// Handle 注册 prefix（通常为 SourceURI.String()）对应的 Client，重复注册会覆盖旧值。
func (m *Mux) Handle(prefix string, client Client) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || client == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.routes[prefix]; !exists {
		m.prefixes = append(m.prefixes, prefix)
		sort.Slice(m.prefixes, func(i, j int) bool {
			return len(m.prefixes[i]) > len(m.prefixes[j])
		})
	}
	m.routes[prefix] = client
}

func (m *Mux) Size(ctx context.Context, uri string) (int64, error) {
	client, err := m.lookup(uri)
	if err != nil {
		return 0, err
	}
	return client.Size(ctx, uri)
}

func (m *Mux) FetchPath(ctx context.Context, uri string) ([]byte, error) {
	client, err := m.lookup(uri)
	if err != nil {
		return nil, err
	}
	return client.FetchPath(ctx, uri)
}

func (m *Mux) lookup(uri string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(uri, prefix) {
			return m.routes[prefix], nil
		}
	}
	if m.fallback != nil {
		return m.fallback, nil
	}
	return nil, &NetworkError{URL: redact(uri), Err: errors.New("no client registered for url")}
}

// redact 去掉 URL 中的 userinfo，避免凭证出现在错误与日志中。
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
