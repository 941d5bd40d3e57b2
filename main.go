package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/gemsync/internal/config"
	"github.com/any-hub/gemsync/internal/logging"
	"github.com/any-hub/gemsync/internal/server"
	"github.com/any-hub/gemsync/internal/server/routes"
	"github.com/any-hub/gemsync/internal/syncer"
	"github.com/any-hub/gemsync/internal/tracing"
	"github.com/any-hub/gemsync/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	syncOnce    bool
	planOnly    bool
}

const shutdownTimeout = 10 * time.Second

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		fmt.Fprintln(stdOut, version.Full())
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global, logging.Options{
		Service: version.Name,
		Version: version.Version,
		Notice:  stdErr,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sources"] = len(cfg.Sources)
		fields["credentials"] = config.CredentialModes(cfg.Sources)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Global.OTLPEndpoint, version.Version)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 tracing 失败: %v\n", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithField("action", "tracing_shutdown").Warn(err.Error())
		}
	}()

	// 启动顺序：配置 → SourceRegistry → 上游客户端 → 磁盘缓存 → fetcher/syncer → Fiber server，
	// 所有入口共享同一组实例。
	svc, err := buildServices(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	switch {
	case opts.syncOnce:
		return runSyncOnce(ctx, svc)
	case opts.planOnly:
		return runPlan(ctx, svc)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sources"] = len(cfg.Sources)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["credentials"] = config.CredentialModes(cfg.Sources)
	fields["storage_path"] = cfg.Global.StoragePath
	fields["commit"] = version.Commit
	logger.WithFields(fields).Info("配置加载完成")

	if err := serve(ctx, cfg, svc, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet(version.Name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		syncOnce   bool
		planOnly   bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 GEMSYNC_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&syncOnce, "sync", false, "同步所有源一次后退出")
	fs.BoolVar(&planOnly, "plan", false, "输出每个源的同步预演（unified diff）后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if syncOnce && planOnly {
		return cliOptions{}, errors.New("-sync 与 -plan 不能同时使用")
	}

	path := os.Getenv("GEMSYNC_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		syncOnce:    syncOnce,
		planOnly:    planOnly,
	}, nil
}

// runSyncOnce 同步所有源并打印摘要，任一源失败时返回 1。
func runSyncOnce(ctx context.Context, svc *services) int {
	code := 0
	for _, res := range svc.syncer.SyncAll(ctx, svc.registry.SyncSources()) {
		svc.manager.Record(res)
		if res.Err != nil {
			code = 1
			fmt.Fprintf(stdOut, "%s\t%s\terror\t%v\n", res.Source.Name, res.Source.Kind.Label(), res.Err)
			continue
		}
		r := res.Result
		fmt.Fprintf(stdOut, "%s\t%s\t%s\trecords=%d added=%d removed=%d size=%d\n",
			res.Source.Name, res.Source.Kind.Label(), r.Outcome, r.Index.Len(), len(r.Added), len(r.Removed), r.RemoteSize)
		if r.CacheWriteErr != nil {
			fmt.Fprintf(stdErr, "%s: 缓存写入失败: %v\n", res.Source.Name, r.CacheWriteErr)
		}
	}
	return code
}

// runPlan 对每个源执行预演，不下载记录也不写缓存。
func runPlan(ctx context.Context, svc *services) int {
	code := 0
	for _, source := range svc.registry.SyncSources() {
		plan, err := svc.syncer.Plan(ctx, source)
		if err != nil {
			code = 1
			fmt.Fprintf(stdErr, "%s: %v\n", source.Name, err)
			continue
		}
		text, err := plan.Render()
		if err != nil {
			code = 1
			fmt.Fprintf(stdErr, "%s: %v\n", source.Name, err)
			continue
		}
		fmt.Fprint(stdOut, text)
	}
	return code
}

// serve 启动同步轮询与 Fiber 服务，ctx 结束后优雅退出。
func serve(ctx context.Context, cfg *config.Config, svc *services, logger *logrus.Logger) error {
	app, err := server.NewApp(server.AppOptions{
		Logger:   logger,
		Registry: svc.registry,
		Gatherer: svc.promRegistry,
	})
	if err != nil {
		return err
	}
	routes.RegisterSourceRoutes(app, routes.SourceDeps{
		Registry: svc.registry,
		Syncer:   svc.syncer,
		Status:   svc.manager,
		Cache:    svc.cache,
		Logger:   logger,
	})
	routes.RegisterSpecRoutes(app, svc.fetcher)
	server.NotFound(app)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		svc.manager.Start(ctx)
	}()

	port := cfg.Global.ListenPort
	listenErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		listenErr <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err = <-listenErr:
		cancel()
	case <-ctx.Done():
		logger.WithField("action", "shutdown").Info("收到退出信号，停止服务")
		err = app.ShutdownWithTimeout(shutdownTimeout)
	}
	<-managerDone
	return err
}

// sourceNames 返回同步源名称列表，供日志使用。
func sourceNames(sources []syncer.Source) []string {
	names := make([]string, len(sources))
	for i, source := range sources {
		names[i] = source.Name
	}
	return names
}
