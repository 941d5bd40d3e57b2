package server

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/any-hub/gemsync/internal/config"
	"github.com/any-hub/gemsync/internal/spec"
	"github.com/any-hub/gemsync/internal/syncer"
)

// SourceRoute 将源配置与解析后的地址、索引类型聚合在一起，供路由与同步层直接复用。
type SourceRoute struct {
	// Config 是用户在 config.toml 中声明的字段副本。
	Config config.SourceConfig
	URI    spec.SourceURI
	Kind   spec.Kind
	// ProxyURL 为空表示沿用环境变量中的代理设置。
	ProxyURL *url.URL
}

// SyncSource 返回同步器使用的 (源, 索引类型) 描述。
func (r SourceRoute) SyncSource() syncer.Source {
	return syncer.Source{Name: r.Config.Name, URI: r.URI, Kind: r.Kind}
}

// SourceRegistry 提供按名称查询源的能力，顺序与配置保持一致。
type SourceRegistry struct {
	routes  map[string]*SourceRoute
	ordered []*SourceRoute
}

// NewSourceRegistry 根据配置构建名称映射。调用方应在启动阶段创建一次并复用。
func NewSourceRegistry(cfg *config.Config) (*SourceRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &SourceRegistry{
		routes: make(map[string]*SourceRoute, len(cfg.Sources)),
	}

	seen := make(map[string]string, len(cfg.Sources))
	for _, source := range cfg.Sources {
		if _, exists := registry.routes[source.Name]; exists {
			return nil, fmt.Errorf("duplicate source name %s", source.Name)
		}

		route, err := buildSourceRoute(source)
		if err != nil {
			return nil, err
		}

		key := route.URI.String() + "#" + string(route.Kind)
		if other, exists := seen[key]; exists {
			return nil, fmt.Errorf("sources %s and %s share url and kind", other, source.Name)
		}
		seen[key] = source.Name

		registry.routes[source.Name] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据名称查找 SourceRoute。
func (r *SourceRegistry) Lookup(name string) (*SourceRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.routes[name]
	return route, ok
}

// List 返回当前注册的 SourceRoute 列表（按配置定义的顺序）。
func (r *SourceRegistry) List() []SourceRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]SourceRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// SyncSources 返回全部源的同步描述。
func (r *SourceRegistry) SyncSources() []syncer.Source {
	routes := r.List()
	out := make([]syncer.Source, len(routes))
	for i, route := range routes {
		out[i] = route.SyncSource()
	}
	return out
}

// URIs 返回去重后的源地址，顺序与配置一致；同一地址的 all/latest 只出现一次。
func (r *SourceRegistry) URIs() []spec.SourceURI {
	var out []spec.SourceURI
	seen := make(map[spec.SourceURI]struct{})
	for _, route := range r.List() {
		if _, ok := seen[route.URI]; ok {
			continue
		}
		seen[route.URI] = struct{}{}
		out = append(out, route.URI)
	}
	return out
}

func buildSourceRoute(source config.SourceConfig) (*SourceRoute, error) {
	uri, err := source.SourceURI()
	if err != nil {
		return nil, fmt.Errorf("invalid url for source %s: %w", source.Name, err)
	}

	var proxyURL *url.URL
	if source.Proxy != "" {
		proxyURL, err = url.Parse(source.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for source %s: %w", source.Name, err)
		}
	}

	return &SourceRoute{
		Config:   source,
		URI:      uri,
		Kind:     source.IndexKind(),
		ProxyURL: proxyURL,
	}, nil
}
