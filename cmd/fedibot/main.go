package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"fedibot/internal/app"
	"fedibot/internal/infra/config"
	"fedibot/internal/infra/logger"
	"fedibot/internal/infra/pr"
)

const usage = `usage: fedibot [flags] <command>

commands:
  run             one full ingest and publish cycle
  publish-queue   publish the pending queue, skipping ingestion
  publish-test    post a single test status, bypassing the queue
  telegram-login  interactive Telegram authorization, run once
  create-app      register the application on the instance and log in
  janitor-test    send a test message to the janitor endpoint

flags:
  -config path    configuration file (default from CONFIG_FILE or config.yaml)
  -env path       .env file with operational settings
  -debug          force debug log level
`

func main() {
	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assign stdout and stderr", zap.Error(err))
	}

	configPath := flag.String("config", "", "path to the configuration file")
	envPath := flag.String("env", "", "path to the .env file")
	debug := flag.Bool("debug", false, "force debug log level")
	flag.Usage = func() { pr.ErrPrintf("%s", usage) }
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		flag.Usage()
		os.Exit(2)
	}

	env, err := config.LoadEnv(*envPath)
	if err != nil {
		logger.Fatal("failed to load environment", zap.Error(err))
	}

	level := env.LogLevel
	if *debug {
		level = "debug"
	}
	logger.Init(level)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	if env.LogFile != "" {
		logger.EnableFile(logger.FileSink{
			Path:       env.LogFile,
			MaxSizeMB:  env.LogFileMaxSize,
			MaxBackups: env.LogFileMaxBackups,
			MaxAgeDays: env.LogFileMaxAge,
			Compress:   env.LogFileCompress,
		})
	}
	for _, msg := range env.Warnings() {
		logger.Warn(msg)
	}
	defer logger.Sync()

	// Флаг -config перекрывает CONFIG_FILE из окружения.
	cfgFile := env.ConfigFile
	if *configPath != "" {
		cfgFile = *configPath
	}
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// Ctrl+C и SIGTERM гасят прогон через контекст; stop снимает подписку.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		pr.InterruptReadline()
	}()

	if err := dispatch(ctx, app.New(cfg), command); err != nil {
		stop()
		logger.Fatal("command failed", zap.String("command", command), zap.Error(err))
	}
}

// dispatch сопоставляет команду CLI с операцией приложения. Частичные сбои
// отдельных источников и постов логируются внутри и сюда не доходят; возврат
// ошибки означает фатальный для команды сбой.
func dispatch(ctx context.Context, a *app.App, command string) error {
	switch command {
	case "run":
		return a.Run(ctx)
	case "publish-queue":
		return a.PublishQueue(ctx)
	case "publish-test":
		return a.PublishTest(ctx)
	case "telegram-login":
		return a.TelegramLogin(ctx)
	case "create-app":
		return a.CreateApp(ctx)
	case "janitor-test":
		return a.JanitorTest(ctx)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}
