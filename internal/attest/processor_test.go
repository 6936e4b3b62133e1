package attest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
	"github.com/kuip/provable-sdk/internal/observability/alerting"
	"github.com/kuip/provable-sdk/pkg/digest"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

type fakeAttester struct {
	calls    atomic.Int32
	failures int32
	err      error
	latency  time.Duration
}

func (f *fakeAttester) AttestBytes(ctx context.Context, data []byte, alg digest.Algorithm) (*kayros.SubmitResponse, error) {
	n := f.calls.Add(1)
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= f.failures {
		return nil, f.err
	}
	d, err := digest.Bytes(data, alg)
	if err != nil {
		return nil, err
	}
	return &kayros.SubmitResponse{Data: kayros.SubmitData{ComputedHashHex: string(d)}}, nil
}

type outcomes struct {
	mu   sync.Mutex
	list []Outcome
	ch   chan Outcome
}

func newOutcomes() *outcomes {
	return &outcomes{ch: make(chan Outcome, 1024)}
}

func (o *outcomes) hook(out Outcome) {
	o.mu.Lock()
	o.list = append(o.list, out)
	o.mu.Unlock()
	o.ch <- out
}

func (o *outcomes) wait(t *testing.T, result string) Outcome {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case out := <-o.ch:
			if out.Result == result {
				return out
			}
		case <-deadline:
			t.Fatalf("等待结果 %s 超时", result)
		}
	}
}

func startProcessor(t *testing.T, p *Processor) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	queue := NewMemoryQueue(1024)
	attester := &fakeAttester{latency: 5 * time.Millisecond}
	var succeeded atomic.Int32
	processor := NewProcessor(attester, queue, queue,
		WithWorkerCount(8),
		WithResultObserver(func(result string) {
			if result == ResultSucceeded {
				succeeded.Add(1)
			}
		}),
	)
	startProcessor(t, processor)

	service := NewService(queue, 3, digest.Keccak256Algorithm)
	total := 100
	for i := 0; i < total; i++ {
		if _, err := service.Enqueue(context.Background(), []byte(fmt.Sprintf("item-%d", i)), ""); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for int(succeeded.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", succeeded.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesTransientFailures(t *testing.T) {
	queue := NewMemoryQueue(16)
	attester := &fakeAttester{
		failures: 2,
		err:      &kayros.TransportError{Op: "submit", StatusCode: http.StatusBadGateway},
	}
	got := newOutcomes()
	startProcessor(t, NewProcessor(attester, queue, queue, WithOutcomeHook(got.hook)))

	job, err := NewService(queue, 3, "").Enqueue(context.Background(), []byte("hello"), digest.Keccak256Algorithm)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	out := got.wait(t, ResultSucceeded)
	if out.Job.ID != job.ID || out.Job.Attempts != 3 {
		t.Fatalf("unexpected job %+v", out.Job)
	}
	if out.Response.Data.ComputedHashHex != "1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8" {
		t.Fatalf("unexpected hash %s", out.Response.Data.ComputedHashHex)
	}
	if attester.calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attester.calls.Load())
	}
}

func TestProcessorGivesUpAfterMaxAttempts(t *testing.T) {
	queue := NewMemoryQueue(16)
	attester := &fakeAttester{
		failures: 100,
		err:      &kayros.TransportError{Op: "submit", StatusCode: http.StatusServiceUnavailable},
	}
	got := newOutcomes()
	startProcessor(t, NewProcessor(attester, queue, queue, WithOutcomeHook(got.hook)))

	if _, err := NewService(queue, 2, "").Enqueue(context.Background(), []byte("hello"), ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	out := got.wait(t, ResultFailed)
	if xerrors.CodeOf(out.Err) != xerrors.CodeRetriesExhausted {
		t.Fatalf("expected retries exhausted, got %v", out.Err)
	}
	if attester.calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", attester.calls.Load())
	}
}

type alertRecorder struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *alertRecorder) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *alertRecorder) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

func TestProcessorAlertsOnTerminalFailure(t *testing.T) {
	queue := NewMemoryQueue(16)
	attester := &fakeAttester{
		failures: 100,
		err:      &kayros.TransportError{Op: "submit", StatusCode: http.StatusBadGateway},
	}
	alerts := &alertRecorder{}
	got := newOutcomes()
	startProcessor(t, NewProcessor(attester, queue, queue,
		WithOutcomeHook(got.hook),
		WithAlertDispatcher(alerts),
	))

	job, err := NewService(queue, 2, "").Enqueue(context.Background(), []byte("hello"), "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got.wait(t, ResultFailed)

	events := alerts.snapshot()
	if len(events) != 1 {
		t.Fatalf("retries should not alert, only the final failure: %+v", events)
	}
	ev := events[0]
	if ev.Code != xerrors.CodeRetriesExhausted || ev.JobID != job.ID || ev.Attempts != 2 || ev.Metadata["stage"] != "attest" {
		t.Fatalf("unexpected alert %+v", ev)
	}
}

func TestProcessorDoesNotRetryClientErrors(t *testing.T) {
	queue := NewMemoryQueue(16)
	badRequest := &kayros.TransportError{Op: "submit", StatusCode: http.StatusBadRequest, Body: "bad data_item"}
	attester := &fakeAttester{failures: 100, err: badRequest}
	got := newOutcomes()
	startProcessor(t, NewProcessor(attester, queue, queue, WithOutcomeHook(got.hook)))

	if _, err := NewService(queue, 5, "").Enqueue(context.Background(), []byte("hello"), ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	out := got.wait(t, ResultFailed)
	if !errors.Is(out.Err, kayros.ErrTransport) {
		t.Fatalf("expected the transport error unchanged, got %v", out.Err)
	}
	if attester.calls.Load() != 1 {
		t.Fatalf("4xx should not be retried, got %d attempts", attester.calls.Load())
	}
}

func TestProcessorDropsMalformedPayload(t *testing.T) {
	queue := NewMemoryQueue(16)
	attester := &fakeAttester{}
	got := newOutcomes()
	startProcessor(t, NewProcessor(attester, queue, queue, WithOutcomeHook(got.hook)))

	if err := queue.Publish(context.Background(), []byte(`{"id":"x","algorithm":"md5"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out := got.wait(t, ResultDropped)
	if xerrors.CodeOf(out.Err) != xerrors.CodeJobValidation {
		t.Fatalf("unexpected error %v", out.Err)
	}
	if attester.calls.Load() != 0 {
		t.Fatal("malformed jobs must not reach the authority")
	}
}

func TestServiceValidatesInput(t *testing.T) {
	queue := NewMemoryQueue(4)
	service := NewService(queue, 0, "")

	if _, err := service.Enqueue(context.Background(), nil, ""); !errors.Is(err, digest.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := service.Enqueue(context.Background(), []byte("x"), "md5"); !errors.Is(err, digest.ErrUnsupportedAlgorithm) {
		t.Fatalf("expected unsupported algorithm, got %v", err)
	}
	job, err := service.Enqueue(context.Background(), []byte("x"), "SHA256")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Algorithm != digest.SHA256Algorithm || job.MaxAttempts != 3 || job.ID == "" {
		t.Fatalf("unexpected job %+v", job)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected one queued job, got %d", queue.Len())
	}

	_ = queue.Close()
	if _, err := service.Enqueue(context.Background(), []byte("x"), ""); xerrors.CodeOf(err) != xerrors.CodeJobPublish {
		t.Fatalf("expected publish failure after close, got %v", err)
	}
}

func TestJobRoundTripThroughQueuePayload(t *testing.T) {
	job := &Job{ID: "j-1", Data: []byte{0x00, 0xff}, Algorithm: digest.SHA256Algorithm, MaxAttempts: 2}
	payload, err := job.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeJob(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded.Data) != string(job.Data) || decoded.Exhausted() {
		t.Fatalf("unexpected job %+v", decoded)
	}
	if _, err := DecodeJob([]byte("not json")); xerrors.CodeOf(err) != xerrors.CodeJobValidation {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestProcessorClassifiesAuthorityFailures(t *testing.T) {
	queue := NewMemoryQueue(16)
	attester := &fakeAttester{
		failures: 100,
		err:      &kayros.TransportError{Op: "submit", StatusCode: http.StatusUnprocessableEntity},
	}
	alerts := &alertRecorder{}
	got := newOutcomes()
	startProcessor(t, NewProcessor(attester, queue, queue,
		WithOutcomeHook(got.hook),
		WithAlertDispatcher(alerts),
	))

	if _, err := NewService(queue, 3, "").Enqueue(context.Background(), []byte("hello"), ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	out := got.wait(t, ResultFailed)
	if xerrors.CodeOf(out.Err) != xerrors.CodeAuthorityTransport {
		t.Fatalf("expected AUTHORITY_TRANSPORT, got %s", xerrors.CodeOf(out.Err))
	}
	events := alerts.snapshot()
	if len(events) != 1 || events[0].Code != xerrors.CodeAuthorityTransport || events[0].Metadata["algorithm"] == "" {
		t.Fatalf("unexpected alerts %+v", events)
	}
}

func TestProcessorRetriesWhenQueueIsFull(t *testing.T) {
	queue := NewMemoryQueue(1)
	attester := &fakeAttester{
		failures: 1,
		latency:  200 * time.Millisecond,
		err:      &kayros.TransportError{Op: "submit", StatusCode: http.StatusServiceUnavailable},
	}
	got := newOutcomes()
	startProcessor(t, NewProcessor(attester, queue, queue, WithOutcomeHook(got.hook)))

	service := NewService(queue, 3, "")
	if _, err := service.Enqueue(context.Background(), []byte("a"), ""); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for attester.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("第一个任务未被消费")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// a 仍在处理中，b 占满缓冲区，a 的重投不能阻塞唯一的工作协程。
	if _, err := service.Enqueue(context.Background(), []byte("b"), ""); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	got.wait(t, ResultSucceeded)
	got.wait(t, ResultSucceeded)
	if queue.Len() != 0 {
		t.Fatalf("queue should be drained, len=%d", queue.Len())
	}
	if attester.calls.Load() != 3 {
		t.Fatalf("expected 3 attester calls, got %d", attester.calls.Load())
	}
}
