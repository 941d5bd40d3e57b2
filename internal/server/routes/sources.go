package routes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/gemsync/internal/cache"
	"github.com/any-hub/gemsync/internal/codec"
	"github.com/any-hub/gemsync/internal/logging"
	"github.com/any-hub/gemsync/internal/remote"
	"github.com/any-hub/gemsync/internal/server"
	"github.com/any-hub/gemsync/internal/spec"
	"github.com/any-hub/gemsync/internal/syncer"
)

// Synchronizer 是 HTTP 层需要的同步能力，由 *syncer.Synchronizer 实现。
type Synchronizer interface {
	Sync(ctx context.Context, source syncer.Source) (*syncer.Result, error)
	Plan(ctx context.Context, source syncer.Source) (*syncer.Plan, error)
}

// StatusBook 保存每个源的最近同步状态，由 *syncer.Manager 实现。
type StatusBook interface {
	Record(res syncer.SourceResult)
	Status() []syncer.SourceStatus
}

// CacheReader 读取缓存条目，由 *cache.SpecCache 实现。
type CacheReader interface {
	Get(ctx context.Context, source spec.SourceURI, kind spec.Kind) (*cache.Entry, bool)
}

// SourceDeps 汇总 /-/sources 路由的依赖。
type SourceDeps struct {
	Registry *server.SourceRegistry
	Syncer   Synchronizer
	Status   StatusBook
	Cache    CacheReader
	Logger   *logrus.Logger
}

// RegisterSourceRoutes 暴露 /-/sources 诊断、手动同步与同步预演接口。
func RegisterSourceRoutes(app *fiber.App, deps SourceDeps) {
	if app == nil || deps.Registry == nil || deps.Syncer == nil {
		return
	}

	app.Get("/-/sources", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sources": encodeSources(c.Context(), deps),
		})
	})

	app.Post("/-/sources/:name/sync", func(c fiber.Ctx) error {
		route, ok := deps.Registry.Lookup(strings.TrimSpace(c.Params("name")))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "source_not_found"})
		}
		source := route.SyncSource()
		res, err := deps.Syncer.Sync(c.Context(), source)
		if deps.Status != nil {
			deps.Status.Record(syncer.SourceResult{Source: source, Result: res, Err: err})
		}
		if err != nil {
			if deps.Logger != nil {
				fields := logging.SourceFields(route.Config.Name, route.URI.String(), route.Kind.Label(), route.Config.AuthMode())
				fields["action"] = "manual_sync"
				fields["request_id"] = server.RequestID(c)
				deps.Logger.WithFields(fields).Warn(err.Error())
			}
			return c.Status(errorStatus(err)).JSON(fiber.Map{
				"error":   errorCode(err),
				"message": err.Error(),
			})
		}
		return c.JSON(encodeResult(res))
	})

	app.Get("/-/sources/:name/plan", func(c fiber.Ctx) error {
		route, ok := deps.Registry.Lookup(strings.TrimSpace(c.Params("name")))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "source_not_found"})
		}
		plan, err := deps.Syncer.Plan(c.Context(), route.SyncSource())
		if err != nil {
			return c.Status(errorStatus(err)).JSON(fiber.Map{
				"error":   errorCode(err),
				"message": err.Error(),
			})
		}
		body, err := plan.Render()
		if err != nil {
			return err
		}
		c.Set("X-Gemsync-Plan", plan.Mode())
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(body)
	})
}

type sourcePayload struct {
	Name     string               `json:"name"`
	URL      string               `json:"url"`
	Kind     string               `json:"kind"`
	AuthMode string               `json:"auth_mode"`
	Cached   *cachedPayload       `json:"cached,omitempty"`
	Status   *syncer.SourceStatus `json:"status,omitempty"`
}

type cachedPayload struct {
	RemoteSize int64     `json:"remote_size"`
	Records    int       `json:"records"`
	SyncedAt   time.Time `json:"synced_at"`
}

type resultPayload struct {
	Source        string         `json:"source"`
	Kind          string         `json:"kind"`
	RunID         string         `json:"run_id"`
	Outcome       syncer.Outcome `json:"outcome"`
	States        []syncer.State `json:"states"`
	Added         []string       `json:"added"`
	Removed       []string       `json:"removed"`
	Records       int            `json:"records"`
	RemoteSize    int64          `json:"remote_size"`
	DurationMS    int64          `json:"duration_ms"`
	CacheWriteErr string         `json:"cache_write_error,omitempty"`
}

func encodeSources(ctx context.Context, deps SourceDeps) []sourcePayload {
	statuses := map[string]syncer.SourceStatus{}
	if deps.Status != nil {
		for _, st := range deps.Status.Status() {
			statuses[st.Name+"#"+st.Kind] = st
		}
	}

	routes := deps.Registry.List()
	result := make([]sourcePayload, 0, len(routes))
	for _, route := range routes {
		item := sourcePayload{
			Name:     route.Config.Name,
			URL:      route.URI.String(),
			Kind:     route.Kind.Label(),
			AuthMode: route.Config.AuthMode(),
		}
		if deps.Cache != nil {
			if entry, ok := deps.Cache.Get(ctx, route.URI, route.Kind); ok {
				item.Cached = &cachedPayload{
					RemoteSize: entry.ObservedRemoteSize,
					Records:    entry.Index.Len(),
					SyncedAt:   entry.SyncedAt,
				}
			}
		}
		if st, ok := statuses[route.Config.Name+"#"+route.Kind.Label()]; ok {
			item.Status = &st
		}
		result = append(result, item)
	}
	return result
}

func encodeResult(res *syncer.Result) resultPayload {
	payload := resultPayload{
		Source:     res.Source.Name,
		Kind:       res.Source.Kind.Label(),
		RunID:      res.RunID,
		Outcome:    res.Outcome,
		States:     res.States,
		Added:      nonNil(res.Added),
		Removed:    nonNil(res.Removed),
		Records:    res.Index.Len(),
		RemoteSize: res.RemoteSize,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.CacheWriteErr != nil {
		payload.CacheWriteErr = res.CacheWriteErr.Error()
	}
	return payload
}

// errorStatus 将同步错误映射为 HTTP 状态码：上游问题为 502，超时为 504。
func errorStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case remote.IsUnavailable(err), codec.IsDecodeError(err):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorCode(err error) string {
	var notFound *remote.NotFoundError
	switch {
	case errors.As(err, &notFound):
		return "upstream_not_found"
	case remote.IsUnavailable(err):
		return "upstream_unavailable"
	case codec.IsDecodeError(err):
		return "upstream_corrupt"
	case errors.Is(err, context.DeadlineExceeded):
		return "upstream_timeout"
	default:
		return "sync_failed"
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
