package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

const defaultReleaseTimeout = 5 * time.Second

// Mode — режим передачи единицы работы.
type Mode int

// Режимы Process.
const (
	// ModeAsync — вернуть управление после приёма в пул.
	ModeAsync Mode = 0

	// ModeSync — дождаться завершения обработки.
	ModeSync Mode = 1
)

// Outcome — результат успешного Process.
type Outcome int

// Результаты Process.
const (
	OutcomeAccepted Outcome = iota + 1
	OutcomeCompleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Task — единица работы, переданная в Processor.
type Task struct {
	Priority int
	Body     []byte
}

// Options — параметры Initialize.
type Options struct {
	Processor      Processor
	Logger         *slog.Logger
	ReleaseTimeout time.Duration
}

// Option настраивает Options.
type Option func(*Options)

// WithProcessor задаёт Processor (по умолчанию RecordProcessor).
func WithProcessor(p Processor) Option {
	return func(o *Options) {
		o.Processor = p
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithReleaseTimeout ограничивает ожидание остановки пула в Shutdown.
func WithReleaseTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReleaseTimeout = d
	}
}

// Handle — инициализированное состояние engine.
//
// Handle создаётся один раз на процесс через Initialize и
// останавливается ровно одним вызовом Shutdown.
type Handle struct {
	key     int
	workers int

	pool      *ants.Pool
	processor Processor
	logger    *slog.Logger

	releaseTimeout time.Duration

	// mu защищает stopped от гонки с приёмом новых единиц работы.
	mu      sync.RWMutex
	stopped bool
	pending sync.WaitGroup
}

// Initialize захватывает ключ и поднимает пул из workerCount воркеров.
func Initialize(shmKey, workerCount int, opts ...Option) (*Handle, error) {
	o := Options{ReleaseTimeout: defaultReleaseTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Processor == nil {
		o.Processor = &RecordProcessor{}
	}
	if o.ReleaseTimeout <= 0 {
		o.ReleaseTimeout = defaultReleaseTimeout
	}

	if workerCount <= 0 {
		return nil, fmt.Errorf("%w: invalid worker count %d", ErrEngineUnavailable, workerCount)
	}

	if err := acquireKey(shmKey); err != nil {
		return nil, err
	}

	logger := o.Logger.With("shm_key", shmKey)

	pool, err := ants.NewPool(workerCount, ants.WithLogger(antsLogger{logger}))
	if err != nil {
		releaseKey(shmKey)
		return nil, fmt.Errorf("%w: create worker pool: %v", ErrEngineUnavailable, err)
	}

	logger.Info("engine initialized", "workers", workerCount)

	return &Handle{
		key:            shmKey,
		workers:        workerCount,
		pool:           pool,
		processor:      o.Processor,
		logger:         logger,
		releaseTimeout: o.ReleaseTimeout,
	}, nil
}

// Key возвращает shared-memory ключ.
func (h *Handle) Key() int { return h.key }

// Workers возвращает число воркеров.
func (h *Handle) Workers() int { return h.workers }

// Process передаёт тело в engine.
//
// Возвращает ErrEngineProcessing, если engine отклонил единицу работы,
// и ErrEngineShutdown после Shutdown.
func (h *Handle) Process(ctx context.Context, priority int, mode Mode, body []byte) (Outcome, error) {
	if mode != ModeSync && mode != ModeAsync {
		return 0, fmt.Errorf("%w: unknown mode %d", ErrEngineProcessing, mode)
	}

	h.mu.RLock()
	if h.stopped {
		h.mu.RUnlock()
		return 0, ErrEngineShutdown
	}
	h.pending.Add(1)
	h.mu.RUnlock()

	task := Task{Priority: priority, Body: body}

	if mode == ModeAsync {
		return h.submitAsync(ctx, task)
	}
	return h.submitSync(ctx, task)
}

// submitSync ждёт завершения Processor.
func (h *Handle) submitSync(ctx context.Context, task Task) (Outcome, error) {
	done := make(chan error, 1)

	err := h.pool.Submit(func() {
		defer h.pending.Done()
		done <- h.run(ctx, task)
	})
	if err != nil {
		h.pending.Done()
		return 0, fmt.Errorf("%w: submit: %v", ErrEngineProcessing, err)
	}

	select {
	case err := <-done:
		if err != nil {
			return 0, err
		}
		return OutcomeCompleted, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", ErrEngineProcessing, ctx.Err())
	}
}

// submitAsync возвращает управление сразу после приёма в пул.
func (h *Handle) submitAsync(ctx context.Context, task Task) (Outcome, error) {
	runCtx := context.WithoutCancel(ctx)

	err := h.pool.Submit(func() {
		defer h.pending.Done()
		if err := h.run(runCtx, task); err != nil {
			h.logger.Warn("async task failed", "priority", task.Priority, "error", err)
		}
	})
	if err != nil {
		h.pending.Done()
		return 0, fmt.Errorf("%w: submit: %v", ErrEngineProcessing, err)
	}

	return OutcomeAccepted, nil
}

// run вызывает Processor и приводит любые его ошибки к ErrEngineProcessing.
func (h *Handle) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: processor panic: %v", ErrEngineProcessing, r)
		}
	}()

	if err := h.processor.Process(ctx, task); err != nil {
		if errors.Is(err, ErrEngineProcessing) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrEngineProcessing, err)
	}

	return nil
}

// Shutdown останавливает engine: ждёт принятые единицы работы,
// освобождает пул и ключ.
//
// Повторный вызов возвращает ErrEngineShutdown.
func (h *Handle) Shutdown() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return ErrEngineShutdown
	}
	h.stopped = true
	h.mu.Unlock()

	h.logger.Info("shutting down engine")

	h.pending.Wait()
	defer releaseKey(h.key)

	if err := h.pool.ReleaseTimeout(h.releaseTimeout); err != nil {
		return fmt.Errorf("release worker pool: %w", err)
	}

	h.logger.Info("engine stopped")
	return nil
}

// antsLogger направляет сообщения пула в slog.
type antsLogger struct {
	logger *slog.Logger
}

func (l antsLogger) Printf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "ants")
}
