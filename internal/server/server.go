package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"captionflow/config"
	"captionflow/internal/appdirs"
	"captionflow/internal/handler"
	"captionflow/internal/queue"
	"captionflow/internal/router"
	"captionflow/internal/service"
	"captionflow/internal/storage"
	"captionflow/internal/taskrunner"
	"captionflow/log"
)

const shutdownTimeout = 15 * time.Second

var ErrAlreadyRunning = errors.New("another captionflow server holds the data directory lock")

// StartBackend runs the API server until ctx is canceled, then drains it.
func StartBackend(ctx context.Context) error {
	dirs, err := appdirs.Resolve()
	if err != nil {
		return err
	}

	lockPath := appdirs.LockPathFor(dirs)
	if err = os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.GetLogger().Warn("failed to release server lock", zap.Error(err))
		}
	}()

	storage.InitDB()
	tasks := storage.NewTaskStore(storage.DB)
	if count, err := tasks.MarkStale(ctx); err != nil {
		log.GetLogger().Warn("Failed to mark stale tasks", zap.Error(err))
	} else if count > 0 {
		log.GetLogger().Info("Marked stale tasks as failed", zap.Int64("count", count))
	}

	svc, err := service.NewService(ctx, tasks)
	if err != nil {
		return err
	}
	defer svc.Close()

	stopWorkers, err := startWorkers(svc)
	if err != nil {
		return err
	}
	defer stopWorkers()

	conf := config.Conf
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	hdl := handler.NewHandler(svc, appdirs.SubtitleRootFor(dirs), conf.Acquire.CookiesFile)
	router.SetupRouter(engine, hdl)

	addr := net.JoinHostPort(conf.Server.Host, strconv.Itoa(conf.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.GetLogger().Info("服务启动 Server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.GetLogger().Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// startWorkers picks the asynq queue when enabled and the in-process runner
// otherwise, and registers it as the service dispatcher.
func startWorkers(svc *service.Service) (func(), error) {
	conf := config.Conf
	if conf.Queue.Enabled {
		q := queue.NewQueue(queue.QueueConfig{
			RedisAddr:     conf.Redis.Addr,
			RedisPassword: conf.Redis.Password,
			RedisDB:       conf.Redis.DB,
			Concurrency:   conf.Queue.Concurrency,
			MaxRetry:      conf.Pipeline.RetryCount,
			TaskTimeout:   time.Duration(conf.Server.RequestTimeoutSec) * time.Second,
		})
		if err := queue.StartWorker(q, svc); err != nil {
			_ = q.Close()
			return nil, fmt.Errorf("start queue worker: %w", err)
		}
		svc.SetDispatcher(q)
		return func() {
			if err := q.Close(); err != nil {
				log.GetLogger().Warn("failed to close queue", zap.Error(err))
			}
		}, nil
	}

	runner := taskrunner.New(svc, taskrunner.Config{
		QueueSize:   conf.Queue.QueueSize,
		Concurrency: conf.Queue.Concurrency,
	})
	svc.SetDispatcher(runner)
	return runner.Close, nil
}
