package bridge

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/krbridge/internal/engine"
	"github.com/shaiso/krbridge/internal/telemetry"
)

// Параметры вызова движка для каждой доставки.
const (
	enginePriority = 1
	engineMode     = engine.ModeSync
)

// Engine — часть движка, которую использует Dispatcher.
type Engine interface {
	Process(ctx context.Context, priority int, mode engine.Mode, body []byte) (engine.Outcome, error)
}

// Acknowledger подтверждает доставку по delivery-tag.
type Acknowledger interface {
	Ack(tag uint64) error
}

// DispatcherConfig — конфигурация Dispatcher.
type DispatcherConfig struct {
	Engine  Engine
	Acker   Acknowledger
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Dispatcher передаёт доставки движку и подтверждает их после успешной передачи.
type Dispatcher struct {
	engine  Engine
	acker   Acknowledger
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewDispatcher создаёт Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		engine:  cfg.Engine,
		acker:   cfg.Acker,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Run обрабатывает доставки по одной в порядке поступления.
//
// Перед каждым приёмом проверяется ctx: после отмены новые доставки не
// берутся, и Run возвращает nil. Текущий вызов движка идёт с контекстом
// без отмены и всегда доводится до конца (вместе с ack).
// Закрытый канал доставок возвращает ErrDeliveriesClosed, сбой ack
// возвращается как есть.
func (d *Dispatcher) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	handoff := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil

		case raw, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}

			if err := d.OnDelivery(handoff, raw); err != nil {
				return err
			}
		}
	}
}

// OnDelivery обрабатывает одну доставку: engine.Process(1, 1, body), затем ack.
//
// Ошибка движка логируется и не возвращается: доставка остаётся без ack,
// а обработка продолжается. Возвращается только ошибка ack (ErrAck).
func (d *Dispatcher) OnDelivery(ctx context.Context, raw amqp.Delivery) error {
	logger := telemetry.WithDelivery(d.logger, raw.DeliveryTag, raw.ContentType)
	d.metrics.Received()

	logger.Info("received delivery", "size", len(raw.Body))

	start := time.Now()
	outcome, err := d.engine.Process(telemetry.WithLogger(ctx, logger), enginePriority, engineMode, raw.Body)
	d.metrics.ObserveProcess(time.Since(start))

	if err != nil {
		d.metrics.EngineFailed()
		logger.Error("engine rejected delivery, leaving unacknowledged", "error", err)
		return nil
	}

	if err := d.acker.Ack(raw.DeliveryTag); err != nil {
		d.metrics.AckFailed()
		logger.Error("failed to ack delivery", "error", err)
		return err
	}

	d.metrics.Acked()
	logger.Debug("delivery acknowledged", "outcome", outcome.String())
	return nil
}
