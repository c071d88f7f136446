// =============================================================================
// FlowCanvas 主入口
// =============================================================================
// 服务入口点，包含 HTTP API、健康检查、Prometheus 指标与离线工具
//
// 使用方法:
//
//	flowcanvas serve                       # 启动服务
//	flowcanvas serve --config config.yaml  # 指定配置文件
//	flowcanvas compile --in canvas.json    # 编译画布
//	flowcanvas replay --workflow wf.yaml --events run.jsonl
//	flowcanvas version                     # 显示版本信息
//	flowcanvas health                      # 健康检查
//	flowcanvas migrate up                  # 运行数据库迁移
// =============================================================================

// @title FlowCanvas API
// @version 1.0.0
// @description FlowCanvas turns agent graphs drawn on a canvas into compiled workflows and visualizes their runs live.
// @description
// @description ## Features
// @description - Graph editing sessions with cycle-safe edge insertion
// @description - Deterministic compilation to sequential, parallel or DAG workflows
// @description - Pluggable workflow stores (memory, file, Redis, SQL, MongoDB)
// @description - Run event ingestion and WebSocket replay for late viewers

// @contact.name FlowCanvas Team
// @contact.url https://github.com/BaSui01/flowcanvas

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/flowcanvas/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "compile":
		runCompile(os.Args[2:])
	case "replay":
		runReplay(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting FlowCanvas",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, logger)
	if err := srv.Init(ctx); err != nil {
		srv.Close()
		logger.Fatal("Failed to initialize server", zap.Error(err))
	}

	err = srv.Run(ctx)
	srv.Close()
	if err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Info("FlowCanvas stopped")
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("FlowCanvas %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`FlowCanvas - visual workflow editor and run viewer

Usage:
  flowcanvas <command> [options]

Commands:
  serve     Start the FlowCanvas server
  migrate   Database migration commands
  compile   Compile a canvas document into a workflow
  replay    Replay a run's events against a workflow
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'compile':
  --in <path>            Canvas JSON document (required)
  --out <path>           Output file, stdout when empty
  --format yaml|json     Output format (default: yaml, or from --out extension)
  --id, --name, --description   Override the canvas metadata
  --catalog <dir>        Check agent and tool references against a catalog

Options for 'replay':
  --workflow <path>      Compiled workflow (YAML or JSON, required)
  --events <path>        Newline-delimited event file
  --url <ws-url>         Live stream URL instead of a file
  --verbose              Print a line for every applied event

Examples:
  flowcanvas serve --config /etc/flowcanvas/config.yaml
  flowcanvas compile --in research.canvas.json --out research.yaml
  flowcanvas replay --workflow research.yaml --events run.jsonl
  flowcanvas migrate up
  flowcanvas health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
