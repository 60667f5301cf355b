package batch

import (
	"sync"
	"time"
)

// throughputWindow 是吞吐量滑动窗口的长度。
const throughputWindow = 10 * time.Second

// Metrics 是处理器生命周期内的累计计量。
type Metrics struct {
	// 已完结（成功、失败或被取消）的请求总数
	TotalRequests int64 `json:"total_requests"`
	// 已完成的批次数
	BatchesProcessed int64 `json:"batches_processed"`
	// 已完成批次的平均处理耗时
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	// 滑动窗口内的吞吐量（请求/秒）
	Throughput float64 `json:"throughput"`
}

// QueueStatus 是队列的瞬时状态。
type QueueStatus struct {
	// 等待派发的请求数
	QueueLength int `json:"queue_length"`
	// 已派发未完成的请求数
	PendingRequests int `json:"pending_requests"`
	// 是否有批次在途
	IsProcessing bool `json:"is_processing"`
}

// Metrics 返回当前累计计量的快照。
func (p *Processor[T, R]) Metrics() Metrics {
	m := Metrics{
		TotalRequests:    p.totalRequests.Load(),
		BatchesProcessed: p.batchesProcessed.Load(),
		Throughput:       p.window.rate(time.Now()),
	}
	if m.BatchesProcessed > 0 {
		m.AverageProcessingTime = time.Duration(p.totalBatchNanos.Load() / m.BatchesProcessed)
	}
	return m
}

// QueueStatus 返回队列瞬时状态的快照。
func (p *Processor[T, R]) QueueStatus() QueueStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return QueueStatus{
		QueueLength:     len(p.queue),
		PendingRequests: p.inFlight,
		IsProcessing:    p.dispatching > 0,
	}
}

// rateWindow 按时间戳记录完成的请求数，计算滑动窗口吞吐量。
type rateWindow struct {
	mu      sync.Mutex
	span    time.Duration
	samples []rateSample
}

type rateSample struct {
	at    time.Time
	count int
}

func newRateWindow(span time.Duration) *rateWindow {
	return &rateWindow{span: span}
}

func (w *rateWindow) record(now time.Time, count int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, rateSample{at: now, count: count})
	w.pruneLocked(now)
}

// rate 返回窗口内每秒完成的请求数。
func (w *rateWindow) rate(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)

	total := 0
	for _, s := range w.samples {
		total += s.count
	}
	if total == 0 {
		return 0
	}
	return float64(total) / w.span.Seconds()
}

func (w *rateWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}
