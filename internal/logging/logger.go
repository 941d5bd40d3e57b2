package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/gemsync/internal/config"
)

// Options 描述进程级固定字段与降级提示的输出位置。
type Options struct {
	Service string
	Version string
	// Notice 接收日志文件不可用时的降级提示，默认 os.Stderr。
	Notice io.Writer
}

// InitLogger 根据全局配置创建 JSON 结构化日志。每条日志都会带上 service/version 字段，
// 全局 logrus 实例保持不变。
func InitLogger(cfg config.GlobalConfig, opts Options) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}
	notice := opts.Notice
	if notice == nil {
		notice = os.Stderr
	}

	output, outErr := buildOutput(cfg)
	if outErr != nil {
		fmt.Fprintf(notice, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	static := logrus.Fields{}
	if opts.Service != "" {
		static["service"] = opts.Service
	}
	if opts.Version != "" {
		static["version"] = opts.Version
	}
	if len(static) > 0 {
		logger.AddHook(staticFields(static))
	}

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}
	return logger, nil
}

// staticFields 为每条日志补齐固定字段，调用方显式设置的同名字段优先。
type staticFields logrus.Fields

func (h staticFields) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h staticFields) Fire(entry *logrus.Entry) error {
	for key, value := range h {
		if _, exists := entry.Data[key]; !exists {
			entry.Data[key] = value
		}
	}
	return nil
}

// buildOutput 返回 lumberjack 轮转文件；目录无法创建时退回 stdout 并返回原因。
func buildOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}
