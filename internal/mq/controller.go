package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/krbridge/internal/telemetry"
)

const defaultPrefetch = 1

// ControllerConfig — конфигурация Controller.
type ControllerConfig struct {
	// URL — AMQP URL брокера.
	URL string

	// Dial открывает соединение (опционально; по умолчанию DialAMQP).
	Dial Dialer

	// Queue — очередь для потребления (по умолчанию QueueKR).
	Queue Queue

	// Prefetch — basic.qos prefetch count (default: 1).
	Prefetch int

	// ConsumerTag — тег потребителя (по умолчанию krbridge-<uuid>).
	ConsumerTag string

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Controller владеет соединением и каналом и ведёт их через явную машину состояний:
//
//	INIT → CONNECTING → CONNECTED → CHANNEL_OPEN → CONSUMING → CLOSING → CLOSED
//
// Любой сбой (отказ dial, закрытие брокером, конфликт топологии) переводит
// Controller в CLOSING. Переподключения нет: потерянное соединение завершает сессию.
type Controller struct {
	url         string
	dial        Dialer
	queue       Queue
	prefetch    int
	consumerTag string

	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu       sync.Mutex
	state    State
	conn     Connection
	channel  Channel
	closeErr error

	done     chan struct{}
	doneOnce sync.Once
}

// NewController создаёт Controller в состоянии INIT.
func NewController(cfg ControllerConfig) *Controller {
	dial := cfg.Dial
	if dial == nil {
		dial = DialAMQP
	}

	queue := cfg.Queue
	if queue == "" {
		queue = QueueKR
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	tag := cfg.ConsumerTag
	if tag == "" {
		tag = "krbridge-" + uuid.NewString()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		url:         cfg.URL,
		dial:        dial,
		queue:       queue,
		prefetch:    prefetch,
		consumerTag: tag,
		logger:      telemetry.WithQueue(logger, string(queue)),
		metrics:     cfg.Metrics,
		state:       StateInit,
		done:        make(chan struct{}),
	}
}

// Start проводит Controller от INIT до CONSUMING и возвращает канал доставок.
//
// При ошибке Controller уже находится в CLOSING/CLOSED, а ошибка
// матчится с ErrConnection или ErrTopology.
func (c *Controller) Start(ctx context.Context) (<-chan amqp.Delivery, error) {
	if err := c.transition(StateConnecting); err != nil {
		return nil, err
	}

	// 1. Соединение
	if err := ctx.Err(); err != nil {
		return nil, c.fail(fmt.Errorf("%w: %w", ErrConnection, err))
	}

	conn, err := c.dial(c.url)
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: %w", ErrConnection, err))
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.watchConnection(conn.NotifyClose(make(chan *amqp.Error, 1)))

	if err := c.transition(StateConnected); err != nil {
		return nil, c.fail(err)
	}
	c.logger.Info("connected to RabbitMQ")

	// 2. Канал
	if err := ctx.Err(); err != nil {
		return nil, c.fail(fmt.Errorf("%w: %w", ErrConnection, err))
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: open channel: %w", ErrConnection, err))
	}

	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()

	go c.watchChannel(ch.NotifyClose(make(chan *amqp.Error, 1)))

	if err := c.transition(StateChannelOpen); err != nil {
		return nil, c.fail(err)
	}
	c.logger.Debug("channel opened")

	// 3. Топология
	q, err := Declare(ch, c.queue)
	if err != nil {
		return nil, c.fail(err)
	}
	c.logger.Info("queue declared", "messages", q.Messages, "consumers", q.Consumers)

	// 4. Потребление
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, c.fail(fmt.Errorf("%w: set qos: %w", ErrConnection, err))
	}

	deliveries, err := ch.Consume(
		string(c.queue), // queue
		c.consumerTag,   // consumer tag
		false,           // auto-ack (ack только после engine)
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: consume: %w", ErrConnection, err))
	}

	if err := c.transition(StateConsuming); err != nil {
		return nil, c.fail(err)
	}
	c.logger.Info("consumer started", "consumer_tag", c.consumerTag, "prefetch", c.prefetch)

	return deliveries, nil
}

// Ack подтверждает одну доставку на канале потребления.
//
// Ошибка матчится с ErrAck и ErrConnection: сбой ack считается сбоем канала.
func (c *Controller) Ack(tag uint64) error {
	c.mu.Lock()
	ch := c.channel
	state := c.state
	c.mu.Unlock()

	if ch == nil || state != StateConsuming {
		return fmt.Errorf("%w: %w: tag %d: %w", ErrAck, ErrConnection, tag, ErrNotConsuming)
	}

	if err := ch.Ack(tag, false); err != nil {
		return fmt.Errorf("%w: %w: tag %d: %w", ErrAck, ErrConnection, tag, err)
	}

	return nil
}

// Cancel останавливает приём новых доставок (basic.cancel).
//
// Брокер закрывает канал доставок после подтверждения отмены.
// Вне CONSUMING ничего не делает.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	ch := c.channel
	state := c.state
	c.mu.Unlock()

	if ch == nil || state != StateConsuming {
		return nil
	}

	if err := ch.Cancel(c.consumerTag, false); err != nil {
		return fmt.Errorf("%w: cancel consumer: %w", ErrConnection, err)
	}

	c.logger.Info("consumer cancelled", "consumer_tag", c.consumerTag)
	return nil
}

// Close запрашивает закрытие соединения (и канала) и сразу возвращает управление.
//
// Дождаться закрытия — WaitClosed. Повторный вызов ничего не делает.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.setState(StateClosing)
	conn := c.conn
	c.mu.Unlock()

	c.closeConnection(conn)
}

// WaitClosed блокируется до закрытия соединения или истечения ctx.
func (c *Controller) WaitClosed(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done закрывается, когда соединение закрыто.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err возвращает причину аварийного закрытия (nil при штатном).
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// State возвращает текущее состояние.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConsumerTag возвращает тег потребителя.
func (c *Controller) ConsumerTag() string {
	return c.consumerTag
}

// transition выполняет переход под мьютексом.
func (c *Controller) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !CanTransition(c.state, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, c.state, to)
	}
	c.setState(to)
	return nil
}

// setState меняет состояние; вызывается под c.mu после проверки перехода.
func (c *Controller) setState(to State) {
	c.logger.Debug("controller state changed", "from", c.state, "to", to)
	c.state = to
	c.metrics.SetState(int(to))
}

// fail переводит Controller в CLOSING, запоминает причину и закрывает соединение.
func (c *Controller) fail(err error) error {
	c.mu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	alreadyClosing := c.state == StateClosing || c.state == StateClosed
	if !alreadyClosing {
		c.setState(StateClosing)
	}
	conn := c.conn
	c.mu.Unlock()

	c.logger.Error("broker session failed", "error", err)

	if !alreadyClosing {
		c.closeConnection(conn)
	}
	return err
}

// closeConnection закрывает соединение в фоне: Close может ждать брокера
// сколь угодно долго, а ожидание ограничивает WaitClosed.
// CLOSED фиксирует watchConnection, когда соединение сообщит о закрытии.
func (c *Controller) closeConnection(conn Connection) {
	if conn == nil {
		c.markClosed()
		return
	}

	go func() {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("close connection", "error", err)
		}
	}()
}

// markClosed фиксирует CLOSED и закрывает Done. Идемпотентен.
func (c *Controller) markClosed() {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		if c.state != StateClosing {
			c.setState(StateClosing)
		}
		c.setState(StateClosed)
		c.mu.Unlock()

		close(c.done)
		c.logger.Info("connection closed")
	})
}

// watchConnection ждёт закрытия соединения.
// Закрытие по инициативе брокера или из-за сетевого сбоя — фатально для сессии.
func (c *Controller) watchConnection(notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	if ok && amqpErr != nil {
		c.logger.Warn("connection closed by broker", "error", amqpErr)

		c.mu.Lock()
		if c.closeErr == nil {
			c.closeErr = fmt.Errorf("%w: %w", ErrConnection, amqpErr)
		}
		c.mu.Unlock()
	}

	c.markClosed()
}

// watchChannel ждёт закрытия канала. Канал, закрытый брокером с ошибкой
// (например, ack неизвестного тега), тянет за собой закрытие соединения.
func (c *Controller) watchChannel(notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	if !ok || amqpErr == nil {
		return
	}

	c.logger.Warn("channel closed by broker", "error", amqpErr)

	c.mu.Lock()
	if c.closeErr == nil {
		c.closeErr = fmt.Errorf("%w: channel: %w", ErrConnection, amqpErr)
	}
	c.mu.Unlock()

	c.Close()
}
