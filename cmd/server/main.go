package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"captionflow/config"
	"captionflow/internal/deps"
	"captionflow/internal/server"
	"captionflow/log"
)

func main() {
	_ = godotenv.Load()

	log.InitLogger()
	defer log.GetLogger().Sync()

	var err error
	if !config.LoadConfig() {
		os.Exit(1)
	}
	log.InitLoggerWith(log.Options{ConsoleLevel: config.Conf.App.LogLevel})

	if err = config.CheckConfig(); err != nil {
		log.GetLogger().Error("加载配置失败", zap.Error(err))
		os.Exit(1)
	}

	if err = deps.Verify(config.Conf); err != nil {
		log.GetLogger().Error("依赖环境准备失败", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = server.StartBackend(ctx); err != nil {
		log.GetLogger().Error("后端服务启动失败", zap.Error(err))
		os.Exit(1)
	}
}
