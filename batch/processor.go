package batch

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/modelserve/types"
)

// Handler 处理一批输入。返回的结果切片必须与 inputs 长度相同
// 且按位置一一对应；返回 error 时整批请求以该错误失败。
type Handler[T, R any] func(ctx context.Context, inputs []T) ([]R, error)

// Config 配置批处理器。
type Config struct {
	// 单批请求数硬上限
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size"`
	// 首条请求入队后最长等待时间
	MaxWaitTime time.Duration `json:"max_wait_time" yaml:"max_wait_time"`
	// 是否按优先级挑选批次成员
	EnablePrioritization bool `json:"enable_prioritization" yaml:"enable_prioritization"`
	// 是否根据近期耗时自适应调整目标批量
	AdaptiveBatching bool `json:"adaptive_batching" yaml:"adaptive_batching"`
}

// DefaultConfig 返回合理的默认值。
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:         10,
		MaxWaitTime:          100 * time.Millisecond,
		EnablePrioritization: true,
		AdaptiveBatching:     false,
	}
}

// Validate 校验配置。
func (c Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("max_batch_size must be positive, got %d", c.MaxBatchSize))
	}
	if c.MaxWaitTime <= 0 {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("max_wait_time must be positive, got %v", c.MaxWaitTime))
	}
	return nil
}

// ConfigUpdate 描述一次部分配置更新，nil 字段保持原值。
type ConfigUpdate struct {
	MaxBatchSize         *int
	MaxWaitTime          *time.Duration
	EnablePrioritization *bool
	AdaptiveBatching     *bool
}

// Result 是单个请求的最终结果，Err 非 nil 时 Value 为零值。
type Result[R any] struct {
	Value R
	Err   error
}

// Observer 接收批次执行与队列深度的观测回调，用于接入指标系统。
type Observer interface {
	ObserveBatch(size int, d time.Duration, err error)
	ObserveQueueDepth(n int)
}

// request 是队列中的单个请求，done 通道即其完成句柄，
// 在派发完成、清空队列或关闭时恰好被写入一次。
type request[T, R any] struct {
	id       string
	input    T
	priority types.Priority
	enqueued time.Time
	seq      uint64
	done     chan Result[R]
}

// Processor 将并发到达的单条请求合并为批次交给 Handler 处理。
// 队列、定时器与派发调度由单一互斥锁保护；批次派发在独立
// goroutine 中运行，后续请求可以继续入队。
type Processor[T, R any] struct {
	mu       sync.Mutex
	cfg      Config
	handler  Handler[T, R]
	logger   *zap.Logger
	obs      Observer
	queue    []*request[T, R]
	timer    *time.Timer
	timerSet bool
	closed   bool
	nextSeq  uint64

	inFlight    int // 已派发未完成的请求数
	dispatching int // 在途批次数

	// 自适应批量状态（由 mu 保护）
	target      int
	ewmaPerItem float64 // 纳秒

	// 计量
	totalRequests    atomic.Int64
	batchesProcessed atomic.Int64
	totalBatchNanos  atomic.Int64
	window           *rateWindow

	wg sync.WaitGroup
}

// Option 配置 Processor 的可选能力。
type Option[T, R any] func(*Processor[T, R])

// WithObserver 注册指标观测器。
func WithObserver[T, R any](obs Observer) Option[T, R] {
	return func(p *Processor[T, R]) { p.obs = obs }
}

// New 创建批处理器。handler 不能为空；logger 为 nil 时使用 Nop。
func New[T, R any](cfg Config, handler Handler[T, R], logger *zap.Logger, opts ...Option[T, R]) (*Processor[T, R], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "handler must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Processor[T, R]{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(zap.String("component", "batch")),
		target:  cfg.MaxBatchSize,
		window:  newRateWindow(throughputWindow),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Submit 提交单个请求并阻塞等待其批次完成。ctx 取消时提前返回，
// 请求本身仍会随所在批次执行，结果被丢弃。
func (p *Processor[T, R]) Submit(ctx context.Context, input T, priority types.Priority) (R, error) {
	select {
	case res := <-p.SubmitAsync(ctx, input, priority):
		return res.Value, res.Err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// SubmitAsync 提交单个请求并返回一次性结果通道。
// 输入为 nil 或优先级非法时立即以校验错误完成，不进入队列。
func (p *Processor[T, R]) SubmitAsync(ctx context.Context, input T, priority types.Priority) <-chan Result[R] {
	done := make(chan Result[R], 1)

	if isNilInput(input) {
		p.fail(done, types.NewError(types.ErrInvalidRequest, "input must not be nil"))
		return done
	}
	if !priority.Valid() {
		p.fail(done, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid priority %d", int8(priority))))
		return done
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.fail(done, types.NewError(types.ErrProcessorClosed, "batch processor closed"))
		return done
	}

	p.nextSeq++
	req := &request[T, R]{
		id:       uuid.NewString(),
		input:    input,
		priority: priority,
		enqueued: time.Now(),
		seq:      p.nextSeq,
		done:     done,
	}
	p.queue = append(p.queue, req)
	p.observeQueueLocked()

	flushNow := len(p.queue) >= p.flushThresholdLocked()
	if flushNow {
		p.stopTimerLocked()
	} else if !p.timerSet {
		p.armTimerLocked()
	}
	p.mu.Unlock()

	if flushNow {
		p.flush(false)
	}
	return done
}

// flushThresholdLocked 返回触发派发的队列长度阈值。
func (p *Processor[T, R]) flushThresholdLocked() int {
	if p.cfg.AdaptiveBatching {
		return p.target
	}
	return p.cfg.MaxBatchSize
}

func (p *Processor[T, R]) armTimerLocked() {
	p.timerSet = true
	p.timer = time.AfterFunc(p.cfg.MaxWaitTime, p.onTimer)
}

func (p *Processor[T, R]) stopTimerLocked() {
	if p.timerSet {
		p.timer.Stop()
		p.timerSet = false
	}
}

func (p *Processor[T, R]) onTimer() {
	p.mu.Lock()
	p.timerSet = false
	p.mu.Unlock()
	p.flush(true)
}

// flush 从队列中挑选批次并派发，直到剩余请求不足以立即成批。
// force 为 true（定时器到期）时首个批次不受阈值约束；否则队列
// 低于阈值即停止，剩余请求交给定时器。并发触发的 flush 因此
// 不会把竞争对手留下的零头提前派发出去。
func (p *Processor[T, R]) flush(force bool) {
	for {
		p.mu.Lock()
		if p.closed || len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		if !force && len(p.queue) < p.flushThresholdLocked() {
			if !p.timerSet {
				p.armTimerLocked()
			}
			p.mu.Unlock()
			return
		}
		force = false

		n := min(p.cfg.MaxBatchSize, len(p.queue))
		if p.cfg.EnablePrioritization {
			sort.SliceStable(p.queue, func(i, j int) bool {
				if p.queue[i].priority != p.queue[j].priority {
					return p.queue[i].priority > p.queue[j].priority
				}
				return p.queue[i].seq < p.queue[j].seq
			})
		}

		selected := make([]*request[T, R], n)
		copy(selected, p.queue[:n])
		remainder := make([]*request[T, R], len(p.queue)-n)
		copy(remainder, p.queue[n:])
		p.queue = remainder

		p.inFlight += n
		p.dispatching++
		p.observeQueueLocked()
		p.wg.Add(1)
		go p.dispatch(selected)

		p.mu.Unlock()
	}
}

// dispatch 执行一个批次。批次一旦派发便运行至完成，不受调用方
// 取消影响；每个请求的完成句柄恰好被写入一次。
func (p *Processor[T, R]) dispatch(batch []*request[T, R]) {
	defer p.wg.Done()

	inputs := make([]T, len(batch))
	for i, req := range batch {
		inputs[i] = req.input
	}

	start := time.Now()
	results, err := p.handler(context.Background(), inputs)
	elapsed := time.Since(start)

	if err == nil && len(results) != len(batch) {
		err = types.NewError(types.ErrBatchExecution,
			fmt.Sprintf("handler returned %d results for %d inputs", len(results), len(batch)))
	}
	if err != nil {
		if types.GetErrorCode(err) == "" {
			err = types.NewError(types.ErrBatchExecution, "batch handler failed").WithCause(err)
		}
		p.logger.Warn("batch failed",
			zap.Int("size", len(batch)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	}

	for i, req := range batch {
		if err != nil {
			req.done <- Result[R]{Err: err}
		} else {
			req.done <- Result[R]{Value: results[i]}
		}
		close(req.done)
	}

	p.totalRequests.Add(int64(len(batch)))
	p.batchesProcessed.Add(1)
	p.totalBatchNanos.Add(elapsed.Nanoseconds())
	p.window.record(time.Now(), len(batch))
	if p.obs != nil {
		p.obs.ObserveBatch(len(batch), elapsed, err)
	}

	p.mu.Lock()
	p.inFlight -= len(batch)
	p.dispatching--
	if p.cfg.AdaptiveBatching {
		p.adjustTargetLocked(elapsed, len(batch))
	}
	p.mu.Unlock()
}

// adjustTargetLocked 根据本批单条耗时调整目标批量。
// 单条耗时低于滑动平均说明更大的批次在摊薄开销，放大目标；
// 高于平均则收缩。目标始终落在 [1, MaxBatchSize] 内。
func (p *Processor[T, R]) adjustTargetLocked(elapsed time.Duration, size int) {
	perItem := float64(elapsed.Nanoseconds()) / float64(size)
	if p.ewmaPerItem == 0 {
		p.ewmaPerItem = perItem
		return
	}

	const alpha = 0.3
	switch {
	case perItem < p.ewmaPerItem*0.95:
		p.target = min(p.target+1, p.cfg.MaxBatchSize)
	case perItem > p.ewmaPerItem*1.05:
		p.target = max(p.target-1, 1)
	}
	p.ewmaPerItem = alpha*perItem + (1-alpha)*p.ewmaPerItem
}

// ClearQueue 以取消错误使所有尚未派发的请求失败并清空队列，
// 返回被取消的请求数。已派发的在途批次不受影响。
func (p *Processor[T, R]) ClearQueue() int {
	p.mu.Lock()
	cleared := p.queue
	p.queue = nil
	p.stopTimerLocked()
	p.observeQueueLocked()
	p.mu.Unlock()

	cancelErr := types.NewError(types.ErrBatchCancelled, "queue cleared before dispatch")
	for _, req := range cleared {
		req.done <- Result[R]{Err: cancelErr}
		close(req.done)
	}
	p.totalRequests.Add(int64(len(cleared)))
	return len(cleared)
}

// UpdateConfig 应用部分配置更新，保留队列状态，不影响在途批次。
// 更新后的配置非法时返回错误且不生效。
func (p *Processor[T, R]) UpdateConfig(update ConfigUpdate) error {
	p.mu.Lock()
	next := p.cfg
	if update.MaxBatchSize != nil {
		next.MaxBatchSize = *update.MaxBatchSize
	}
	if update.MaxWaitTime != nil {
		next.MaxWaitTime = *update.MaxWaitTime
	}
	if update.EnablePrioritization != nil {
		next.EnablePrioritization = *update.EnablePrioritization
	}
	if update.AdaptiveBatching != nil {
		next.AdaptiveBatching = *update.AdaptiveBatching
	}
	if err := next.Validate(); err != nil {
		p.mu.Unlock()
		return err
	}

	p.cfg = next
	p.target = min(p.target, next.MaxBatchSize)
	flushNow := len(p.queue) >= p.flushThresholdLocked()
	if flushNow {
		p.stopTimerLocked()
	}
	p.mu.Unlock()

	if flushNow {
		p.flush(false)
	}
	return nil
}

// Config 返回当前配置的快照。
func (p *Processor[T, R]) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Close 关闭处理器：拒绝后续提交，取消队列中未派发的请求，
// 并等待在途批次运行完成。可重复调用。
func (p *Processor[T, R]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cleared := p.queue
	p.queue = nil
	p.stopTimerLocked()
	p.mu.Unlock()

	closeErr := types.NewError(types.ErrProcessorClosed, "batch processor closed")
	for _, req := range cleared {
		req.done <- Result[R]{Err: closeErr}
		close(req.done)
	}
	p.totalRequests.Add(int64(len(cleared)))

	p.wg.Wait()
}

func (p *Processor[T, R]) fail(done chan Result[R], err error) {
	done <- Result[R]{Err: err}
	close(done)
}

func (p *Processor[T, R]) observeQueueLocked() {
	if p.obs != nil {
		p.obs.ObserveQueueDepth(len(p.queue))
	}
}

// isNilInput 报告输入是否为 nil（包括带类型的 nil 指针、切片、map 等）。
func isNilInput(input any) bool {
	if input == nil {
		return true
	}
	v := reflect.ValueOf(input)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}
