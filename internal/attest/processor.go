package attest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
	"github.com/kuip/provable-sdk/internal/observability/alerting"
	"github.com/kuip/provable-sdk/pkg/digest"
	"github.com/kuip/provable-sdk/pkg/logger"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

// 任务处理结果，用于指标与回调。
const (
	ResultSucceeded = "succeeded"
	ResultRetried   = "retried"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"
)

// Attester 定义了处理器所需的存证能力，*proofs.Prover 实现了该接口。
type Attester interface {
	AttestBytes(ctx context.Context, data []byte, alg digest.Algorithm) (*kayros.SubmitResponse, error)
}

// Outcome 描述一次任务处理的结果。
type Outcome struct {
	Job      *Job
	Result   string
	Response *kayros.SubmitResponse
	Err      error
}

// Processor 负责从队列消费存证任务并提交给证明服务。
type Processor struct {
	attester    Attester
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	observe     func(result string)
	onOutcome   func(Outcome)
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithResultObserver 在每个任务处理结束后记录结果，通常接入指标。
func WithResultObserver(fn func(result string)) ProcessorOption {
	return func(p *Processor) {
		p.observe = fn
	}
}

// WithOutcomeHook 在每个任务处理结束后回调完整结果。
func WithOutcomeHook(fn func(Outcome)) ProcessorOption {
	return func(p *Processor) {
		p.onOutcome = fn
	}
}

// WithAlertDispatcher 配置告警派发器，任务最终失败且错误码要求告警时触发。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(attester Attester, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		attester:    attester,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("attest")
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.producer == nil || p.attester == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, payload []byte) error {
	job, err := DecodeJob(payload)
	if err != nil {
		// 无法解析的任务重投也不会成功，直接丢弃。
		logger.Audit().Warn("丢弃无效的存证任务", slog.Any("error", err), slog.Int("size", len(payload)))
		p.finish(Outcome{Result: ResultDropped, Err: err})
		return nil
	}

	job.Attempts++
	resp, attestErr := p.attester.AttestBytes(ctx, job.Data, job.Algorithm)
	if attestErr == nil {
		logger.Audit().Info("存证任务执行成功",
			slog.String("job_id", job.ID),
			slog.String("algorithm", string(job.Algorithm)),
			slog.String("computed_hash_hex", resp.Data.ComputedHashHex),
			slog.Int("attempts", job.Attempts),
		)
		p.finish(Outcome{Job: job, Result: ResultSucceeded, Response: resp})
		return nil
	}
	return p.handleFailure(ctx, job, attestErr)
}

func (p *Processor) handleFailure(ctx context.Context, job *Job, attestErr error) error {
	code := xerrors.CodeOf(attestErr)
	if code == xerrors.CodeUnknown {
		code = xerrors.CodeAttestationFailed
	}
	retryable := xerrors.RetryableError(attestErr)
	terminal := job.Exhausted() || !retryable

	logger.Audit().Warn("存证任务执行失败",
		slog.String("job_id", job.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", attestErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
	)

	if terminal {
		err := attestErr
		if retryable {
			err = xerrors.Wrap(xerrors.CodeRetriesExhausted, attestErr, fmt.Sprintf("任务 %s 已达最大重试次数", job.ID))
		}
		p.emitAlert(ctx, job, err, "attest")
		p.finish(Outcome{Job: job, Result: ResultFailed, Err: err})
		return nil
	}

	payload, err := job.Encode()
	if err == nil {
		err = p.producer.Publish(ctx, payload)
	}
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeJobPublish, err, fmt.Sprintf("任务 %s 重投失败", job.ID))
		p.logger.Error("存证任务重投失败", slog.Any("error", wrapped), slog.String("job_id", job.ID))
		p.emitAlert(ctx, job, wrapped, "republish")
		p.finish(Outcome{Job: job, Result: ResultFailed, Err: wrapped})
		return wrapped
	}
	p.logger.Debug("存证任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	p.finish(Outcome{Job: job, Result: ResultRetried, Err: attestErr})
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, cause error, stage string) {
	if p.alerter == nil || cause == nil {
		return
	}
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = xerrors.CodeAttestationFailed
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return
	}
	event := alerting.Event{
		Code:        code,
		Message:     cause.Error(),
		Severity:    attrs.Severity,
		JobID:       job.ID,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Metadata:    xerrors.MetadataOf(cause),
		OccurredAt:  time.Now().UTC(),
	}
	if event.Metadata == nil {
		event.Metadata = make(map[string]string, 2)
	}
	event.Metadata["stage"] = stage
	event.Metadata["algorithm"] = string(job.Algorithm)
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}

func (p *Processor) finish(o Outcome) {
	if p.observe != nil {
		p.observe(o.Result)
	}
	if p.onOutcome != nil {
		p.onOutcome(o)
	}
}
