package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kuip/provable-sdk/internal/api"
	"github.com/kuip/provable-sdk/internal/attest"
	"github.com/kuip/provable-sdk/internal/auth"
	"github.com/kuip/provable-sdk/internal/config"
	"github.com/kuip/provable-sdk/internal/observability/alerting"
	"github.com/kuip/provable-sdk/internal/observability/metrics"
	"github.com/kuip/provable-sdk/pkg/logger"
	"github.com/kuip/provable-sdk/pkg/proofs"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

// main 是 provable 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("provabled 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("PROVABLE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "provable.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	client, err := kayros.NewClient(cfg.Authority.ClientConfig(),
		&http.Client{Timeout: cfg.Authority.Timeout()},
		kayros.WithObserver(metrics.ObserveAuthorityRequest),
		kayros.WithLogger(logger.Named("kayros")),
	)
	if err != nil {
		return err
	}

	prover := proofs.NewProver(client,
		proofs.WithDefaultAlgorithm(cfg.Authority.Algorithm()),
		proofs.WithAttestationObserver(metrics.ObserveAttestation),
	)
	verifier := proofs.NewVerifier(client,
		proofs.WithVerificationObserver(metrics.ObserveVerification),
	)

	authenticator, err := auth.NewService(cfg.Server.Keys())
	if err != nil {
		return fmt.Errorf("初始化网关认证失败: %w", err)
	}
	if !authenticator.Enabled() {
		logger.L().Warn("未配置 API Key，网关接口不做认证")
	}

	queue, err := openQueue(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	service := attest.NewService(queue, cfg.Queue.MaxAttempts, cfg.Authority.Algorithm())
	processorOpts := []attest.ProcessorOption{
		attest.WithWorkerCount(cfg.Queue.Workers),
		attest.WithResultObserver(metrics.ObserveJob),
	}
	if cfg.Alerting.Enabled {
		processorOpts = append(processorOpts, attest.WithAlertDispatcher(newAlerter(cfg.Alerting)))
	}
	processor := attest.NewProcessor(prover, queue, queue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("存证任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	logger.L().Info("provabled 启动",
		slog.String("authority", cfg.Authority.BaseURL),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("algorithm", cfg.Authority.DefaultAlgorithm),
	)

	server := api.NewServer(cfg.Server.Address, api.Services{
		Prover:           prover,
		Verifier:         verifier,
		Records:          client,
		Attestations:     service,
		Auth:             authenticator,
		DefaultAlgorithm: cfg.Authority.Algorithm(),
	})
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newAlerter(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.WebhookURL,
			Client: &http.Client{Timeout: cfg.Timeout()},
		})
	}
	return alerting.NewFanout(notifiers...)
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (attest.Queue, error) {
	switch cfg.Driver {
	case config.QueueMemory:
		return attest.NewMemoryQueue(cfg.Buffer), nil
	case config.QueueRedis:
		q, err := attest.NewRedisQueue(ctx, attest.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: cfg.Redis.BlockWait(),
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	case config.QueueRabbitMQ:
		q, err := attest.NewRabbitMQQueue(attest.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}
