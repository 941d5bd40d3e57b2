package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// SourceFields 提供源名称、地址、索引类型与鉴权模式字段，供同步与 HTTP 日志复用。
func SourceFields(name, url, kind, authMode string) logrus.Fields {
	return logrus.Fields{
		"source":    name,
		"url":       url,
		"kind":      kind,
		"auth_mode": authMode,
	}
}
