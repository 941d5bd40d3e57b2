package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// sourceNameRegex 限制源名称可以安全地出现在 URL 路径与指标标签中。
var sourceNameRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

var formatVersionRegex = regexp.MustCompile(`^\d+(\.\d+)*$`)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("source_name", func(fl validator.FieldLevel) bool {
		return sourceNameRegex.MatchString(fl.Field().String())
	})
	return v
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError(globalField("ListenPort"), "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError(globalField("StoragePath"), "不能为空")
	}
	if g.CacheTTL.DurationValue() < 0 {
		return newFieldError(globalField("CacheTTL"), "不能为负数")
	}
	if g.RecordCacheSize <= 0 {
		return newFieldError(globalField("RecordCacheSize"), "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError(globalField("MaxRetries"), "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError(globalField("InitialBackoff"), "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("UpstreamTimeout"), "必须大于 0")
	}
	if g.SyncInterval.DurationValue() <= 0 {
		return newFieldError(globalField("SyncInterval"), "必须大于 0")
	}
	if g.SyncConcurrency <= 0 {
		return newFieldError(globalField("SyncConcurrency"), "必须大于 0")
	}
	if !formatVersionRegex.MatchString(g.IndexFormatVersion) {
		return newFieldError(globalField("IndexFormatVersion"), "格式应类似 4.8")
	}
	if strings.HasPrefix(g.QuickIndexPath, "/") || strings.Contains(g.QuickIndexPath, "..") {
		return newFieldError(globalField("QuickIndexPath"), "必须是源内的相对路径")
	}

	if len(c.Sources) == 0 {
		return errors.New("至少需要配置一个 Source")
	}

	v := newValidator()
	seenNames := map[string]struct{}{}
	for i := range c.Sources {
		source := &c.Sources[i]
		if err := v.Struct(source); err != nil {
			return translateValidationError(source.Name, err)
		}
		if _, exists := seenNames[source.Name]; exists {
			return newFieldError(sourceField(source.Name, "Name"), "重复")
		}
		seenNames[source.Name] = struct{}{}

		if (source.Username == "") != (source.Password == "") {
			return newFieldError(sourceField(source.Name, "Username/Password"), "必须同时提供或同时留空")
		}
		if err := validateUpstream(source.URL); err != nil {
			return fmt.Errorf("%s: %w", sourceField(source.Name, "URL"), err)
		}
		if source.Proxy != "" {
			if err := validateUpstream(source.Proxy); err != nil {
				return fmt.Errorf("%s: %w", sourceField(source.Name, "Proxy"), err)
			}
		}
	}

	return nil
}

// translateValidationError 把 validator 的第一条失败转换为 FieldError。
func translateValidationError(name string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%s: %w", sourceField(name, ""), err)
	}
	fe := verrs[0]
	return newFieldError(sourceField(name, fe.Field()), describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "不能为空"
	case "max":
		return "长度不能超过 " + fe.Param()
	case "source_name":
		return "仅允许字母、数字与 ._-"
	case "url", "startswith":
		return "必须是 http/https 地址"
	case "oneof":
		return "仅支持 " + strings.ReplaceAll(fe.Param(), " ", "/")
	default:
		return fmt.Sprintf("未通过 %s 校验", fe.Tag())
	}
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
