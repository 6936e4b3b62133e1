package attest

import (
	"context"
	"sync"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
)

// MemoryQueue 使用 channel 模拟消息队列，用于单进程部署与测试。
//
// 外部生产者在缓冲区满时阻塞等待；消费协程内的重投不会阻塞，
// 缓冲区满时进入无界的重投列表，由工作协程优先取出。
type MemoryQueue struct {
	ch      chan []byte
	done    chan struct{}
	wake    chan struct{}
	mu      sync.Mutex
	retries [][]byte
	closed  bool
}

type consumerKey struct{}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
	}
}

// Publish 将任务投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errQueueClosed()
	}
	select {
	case q.ch <- payload:
		q.mu.Unlock()
		return nil
	default:
	}
	if ctx.Value(consumerKey{}) == q {
		q.retries = append(q.retries, payload)
		q.mu.Unlock()
		q.signal()
		return nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errQueueClosed()
	case q.ch <- payload:
		return nil
	}
}

// Len 返回尚未被消费的任务数量。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ch) + len(q.retries)
}

// Consume 启动指定数量的工作协程消费队列中的任务。处理失败的任务由
// Processor 负责重投，这里不做额外处理。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	handlerCtx := context.WithValue(ctx, consumerKey{}, q)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if payload, ok := q.popRetry(); ok {
					_ = handler(handlerCtx, payload)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case <-q.wake:
				case payload := <-q.ch:
					_ = handler(handlerCtx, payload)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) popRetry() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.retries) == 0 {
		return nil, false
	}
	payload := q.retries[0]
	q.retries[0] = nil
	q.retries = q.retries[1:]
	return payload, true
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close 关闭内存队列，阻塞中的生产者会收到错误。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

func errQueueClosed() error {
	return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭", xerrors.WithRetryable(false))
}
