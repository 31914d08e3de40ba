package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/krbridge/internal/telemetry"
)

// Session — сессия потребителя; *mq.Controller удовлетворяет интерфейсу.
type Session interface {
	Acknowledger
	Connection

	Start(ctx context.Context) (<-chan amqp.Delivery, error)
	Done() <-chan struct{}
	Err() error
}

// EngineHandle — инициализированный движок; *engine.Handle удовлетворяет интерфейсу.
type EngineHandle interface {
	Engine
	Shutdowner
}

// Config — конфигурация Bridge.
type Config struct {
	Session Session
	Engine  EngineHandle

	// ShutdownTimeout ограничивает ожидание закрытия соединения (default: 10s).
	ShutdownTimeout time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Bridge — потребитель krqueue, передающий сообщения движку.
type Bridge struct {
	session     Session
	dispatcher  *Dispatcher
	coordinator *Coordinator
	logger      *slog.Logger
}

// New создаёт Bridge. Движок должен быть уже инициализирован;
// Bridge становится его владельцем и останавливает его в Run.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		session: cfg.Session,
		dispatcher: NewDispatcher(DispatcherConfig{
			Engine:  cfg.Engine,
			Acker:   cfg.Session,
			Logger:  logger,
			Metrics: cfg.Metrics,
		}),
		coordinator: NewCoordinator(CoordinatorConfig{
			Conn:    cfg.Session,
			Engine:  cfg.Engine,
			Timeout: cfg.ShutdownTimeout,
			Logger:  logger,
		}),
		logger: logger,
	}
}

// Run запускает сессию и обрабатывает доставки до отмены ctx
// (сигнал прерывания) или фатального события: потери соединения,
// закрытия канала доставок, сбоя ack.
//
// Run всегда завершается полной остановкой: движок остановлен,
// соединение закрыто или истёк таймаут (ErrCloseTimeout).
// Отмена ctx без других ошибок возвращает nil.
func (b *Bridge) Run(ctx context.Context) error {
	deliveries, err := b.session.Start(ctx)
	if err != nil {
		b.logger.Error("failed to start consumer session", "error", err)
		return errors.Join(err, b.coordinator.Shutdown(nil))
	}

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	dispatched := make(chan error, 1)
	go func() {
		dispatched <- b.dispatcher.Run(dispatchCtx, deliveries)
	}()

	var (
		runErr      error
		dispatchErr error
		returned    bool
	)

	select {
	case <-ctx.Done():
		b.logger.Info("interrupt received, shutting down")

	case dispatchErr = <-dispatched:
		returned = true
		runErr = dispatchErr
		b.logger.Error("dispatcher stopped", "error", dispatchErr)

	case <-b.session.Done():
		runErr = b.session.Err()
		b.logger.Error("broker session closed", "error", runErr)
	}

	drain := func() {
		stopDispatch()
		if !returned {
			dispatchErr = <-dispatched
			returned = true
		}
	}

	shutdownErr := b.coordinator.Shutdown(drain)

	// Ошибка ack, случившаяся во время drain, тоже фатальна.
	if runErr == nil && dispatchErr != nil && !errors.Is(dispatchErr, ErrDeliveriesClosed) {
		runErr = dispatchErr
	}

	// Канал доставок закрывается раньше, чем сессия узнаёт причину;
	// после остановки причина уже известна.
	if errors.Is(runErr, ErrDeliveriesClosed) {
		if sessErr := b.session.Err(); sessErr != nil {
			runErr = fmt.Errorf("%w: %w", ErrDeliveriesClosed, sessErr)
		}
	}

	return errors.Join(runErr, shutdownErr)
}
