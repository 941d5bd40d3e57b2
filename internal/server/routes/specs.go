package routes

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/gemsync/internal/fetcher"
	"github.com/any-hub/gemsync/internal/spec"
)

// Finder 是 /-/specs 需要的查询能力，由 *fetcher.Fetcher 实现。
type Finder interface {
	FindMatching(ctx context.Context, query spec.Dependency, kind spec.Kind) []fetcher.SourceIndex
	FetchAll(ctx context.Context, query spec.Dependency, kind spec.Kind) ([]fetcher.Fetched, error)
}

// RegisterSpecRoutes 暴露 /-/specs 查询接口：
//
//	GET /-/specs?name=rack&requirement=>= 2.0, < 3&all=true&platform=false&records=true
//
// all=true 查询全量索引，默认只查最新版本；platform=false 关闭本机平台过滤；
// records=true 额外拉取每条匹配的完整记录。
func RegisterSpecRoutes(app *fiber.App, finder Finder) {
	if app == nil || finder == nil {
		return
	}

	app.Get("/-/specs", func(c fiber.Ctx) error {
		query, kind, err := parseSpecQuery(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_query",
				"message": err.Error(),
			})
		}

		if wantRecords, _ := strconv.ParseBool(c.Query("records")); wantRecords {
			fetched, err := finder.FetchAll(c.Context(), query, kind)
			payload := fiber.Map{
				"query":   query.String(),
				"kind":    kind.Label(),
				"records": encodeFetched(fetched),
			}
			if err != nil {
				payload["errors"] = strings.Split(err.Error(), "\n")
			}
			return c.JSON(payload)
		}

		return c.JSON(fiber.Map{
			"query":   query.String(),
			"kind":    kind.Label(),
			"sources": encodeMatches(finder.FindMatching(c.Context(), query, kind)),
		})
	})
}

func parseSpecQuery(c fiber.Ctx) (spec.Dependency, spec.Kind, error) {
	kind := spec.KindLatest
	if raw := c.Query("all"); raw != "" {
		all, err := strconv.ParseBool(raw)
		if err != nil {
			return spec.Dependency{}, "", err
		}
		if all {
			kind = spec.KindAll
		}
	}

	query, err := spec.NewDependency(c.Query("name"), c.Query("requirement"))
	if err != nil {
		return spec.Dependency{}, "", err
	}
	if raw := c.Query("platform"); raw != "" {
		match, err := strconv.ParseBool(raw)
		if err != nil {
			return spec.Dependency{}, "", err
		}
		query.MatchPlatform = match
	}
	return query, kind, nil
}

type matchPayload struct {
	Source  string   `json:"source"`
	Matches []string `json:"matches"`
	Error   string   `json:"error,omitempty"`
}

type recordPayload struct {
	Source   string         `json:"source"`
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Platform string         `json:"platform,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func encodeMatches(found []fetcher.SourceIndex) []matchPayload {
	result := make([]matchPayload, 0, len(found))
	for _, item := range found {
		payload := matchPayload{Source: item.Source.String(), Matches: []string{}}
		if item.Err != nil {
			payload.Error = item.Err.Error()
		}
		for _, id := range item.Matches {
			payload.Matches = append(payload.Matches, id.FullName())
		}
		result = append(result, payload)
	}
	return result
}

func encodeFetched(fetched []fetcher.Fetched) []recordPayload {
	result := make([]recordPayload, 0, len(fetched))
	for _, item := range fetched {
		id := item.Record.ID
		payload := recordPayload{
			Source:   item.Source.String(),
			Name:     id.Name,
			Version:  id.Version,
			Metadata: item.Record.Metadata,
		}
		if !id.Platform.IsDefault() {
			payload.Platform = string(id.Platform)
		}
		result = append(result, payload)
	}
	return result
}
