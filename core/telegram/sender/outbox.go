// Package sender delivers outbound Telegram calls from a bounded queue with
// retries, keeping network latency off the update path.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/metrics"
	"github.com/m3rciful/chainbot/core/netutil"

	tele "gopkg.in/telebot.v4"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the call was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options controls the behaviour of the outbox.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single call.
	MaxDuration time.Duration
}

// Call is one outbound API request. Run must be safe to repeat.
type Call struct {
	Method string
	ChatID int64
	Run    func(ctx context.Context) error
}

type job struct {
	ctx  context.Context
	call Call
}

// Outbox executes calls asynchronously on a fixed worker pool.
type Outbox struct {
	opts   Options
	jobs   chan job
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	errs   atomic.Uint64
}

// New starts an outbox, filling zero options with defaults.
func New(opts Options) *Outbox {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}

	o := &Outbox{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
	}
	o.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go o.worker()
	}
	return o
}

// Enqueue schedules call. The request context values are kept for logging
// but its cancellation is not, so replies outlive the dispatch that queued them.
func (o *Outbox) Enqueue(ctx context.Context, call Call) error {
	if call.Run == nil {
		return errors.New("telegram sender: nil call")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrQueueClosed
	}
	select {
	case o.jobs <- job{ctx: context.WithoutCancel(ctx), call: call}:
		return nil
	default:
		metrics.TelegramSendTotal.WithLabelValues(call.Method, "dropped").Inc()
		return ErrQueueFull
	}
}

// ErrorCount returns the number of calls that failed for good.
func (o *Outbox) ErrorCount() uint64 {
	return o.errs.Load()
}

// Close stops accepting calls and waits until queued ones finished.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.jobs)
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Outbox) worker() {
	defer o.wg.Done()
	for j := range o.jobs {
		o.handle(j)
	}
}

func (o *Outbox) handle(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, o.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := o.opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = j.call.Run(ctx)
		if lastErr == nil {
			metrics.TelegramSendTotal.WithLabelValues(j.call.Method, "ok").Inc()
			logSend(ctx, slog.LevelDebug, j, "send.success", attempt, time.Since(start), nil)
			return
		}
		delay, retry := o.retryDelay(lastErr, attempt)
		if !retry || attempt == attempts {
			break
		}
		logSend(ctx, slog.LevelDebug, j, "send.retry", attempt, delay, lastErr)
		if err := netutil.Sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	o.errs.Add(1)
	metrics.TelegramSendTotal.WithLabelValues(j.call.Method, "fail").Inc()
	logSend(ctx, slog.LevelError, j, "send.fail", attempts, time.Since(start), lastErr)
}

// retryDelay honours Telegram flood control and otherwise backs off
// exponentially on transient network failures.
func (o *Outbox) retryDelay(err error, attempt int) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return time.Duration(flood.RetryAfter) * time.Second, true
	}
	if !netutil.ShouldRetry(err) && classifyError(err) != "http_5xx" {
		return 0, false
	}
	return netutil.Backoff(attempt, o.opts.RetryBackoff, o.opts.MaxDuration), true
}

func logSend(ctx context.Context, level slog.Level, j job, event string, attempt int, took time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("method", j.call.Method),
		slog.Int("attempts", attempt),
		slog.Duration("duration", took),
	}
	if j.call.ChatID != 0 {
		attrs = append(attrs, slog.Int64("chat_id", j.call.ChatID))
	}
	if err != nil {
		attrs[0] = slog.String("status", "retry")
		if level >= slog.LevelError {
			attrs[0] = slog.String("status", "fail")
		}
		attrs = append(attrs,
			slog.String("err", redactError(err)),
			slog.String("err_code", classifyError(err)),
		)
	}
	logger.LogEvent(ctx, logger.TG, level, event, attrs...)
}
