package attest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
	"github.com/kuip/provable-sdk/pkg/digest"
	"github.com/kuip/provable-sdk/pkg/logger"
)

// Service 负责创建存证任务并推送到队列。
type Service struct {
	producer    Producer
	maxAttempts int
	defaultAlg  digest.Algorithm
	now         func() time.Time
}

// NewService 构造任务服务。
func NewService(producer Producer, maxAttempts int, defaultAlg digest.Algorithm) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if !defaultAlg.Supported() {
		defaultAlg = digest.DefaultAlgorithm
	}
	return &Service{producer: producer, maxAttempts: maxAttempts, defaultAlg: defaultAlg, now: time.Now}
}

// Enqueue 校验参数、分配任务 ID 并投递任务。摘要在消费时计算。
func (s *Service) Enqueue(ctx context.Context, data []byte, alg digest.Algorithm) (*Job, error) {
	if s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	if data == nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, digest.ErrInvalidInput, "存证数据不能为空")
	}
	if alg == "" {
		alg = s.defaultAlg
	}
	alg, err := digest.ParseAlgorithm(string(alg))
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:          uuid.NewString(),
		Data:        data,
		Algorithm:   alg,
		MaxAttempts: s.maxAttempts,
		EnqueuedAt:  s.now().UTC(),
	}
	payload, err := job.Encode()
	if err != nil {
		return nil, err
	}
	if err := s.producer.Publish(ctx, payload); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return nil, xerrors.Wrap(xerrors.CodeJobPublish, err, "发布任务到队列失败")
	}
	logger.Audit().Info("存证任务入队成功",
		slog.String("job_id", job.ID),
		slog.String("algorithm", string(alg)),
		slog.Int("size", len(data)),
		slog.Int("max_attempts", job.MaxAttempts),
	)
	return job, nil
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
