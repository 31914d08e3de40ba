package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultShutdownTimeout = 10 * time.Second

// Connection — операции сессии, нужные для остановки.
type Connection interface {
	Cancel() error
	Close()
	WaitClosed(ctx context.Context) error
}

// Shutdowner — движок, который останавливается ровно один раз.
type Shutdowner interface {
	Shutdown() error
}

// CoordinatorConfig — конфигурация Coordinator.
type CoordinatorConfig struct {
	Conn   Connection
	Engine Shutdowner

	// Timeout ограничивает ожидание закрытия соединения (default: 10s).
	Timeout time.Duration

	Logger *slog.Logger
}

// Coordinator выполняет остановку в строгом порядке:
// drain → close connection → engine shutdown → ожидание закрытия.
type Coordinator struct {
	conn    Connection
	engine  Shutdowner
	timeout time.Duration
	logger  *slog.Logger

	once sync.Once
	err  error
}

// NewCoordinator создаёт Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		conn:    cfg.Conn,
		engine:  cfg.Engine,
		timeout: timeout,
		logger:  logger,
	}
}

// Shutdown останавливает мост. drain должен вернуть управление только
// после того, как текущая доставка обработана и новых не будет.
//
// Выполняется один раз; повторные вызовы возвращают тот же результат.
// Ошибка матчится с ErrCloseTimeout, если соединение не закрылось вовремя.
func (c *Coordinator) Shutdown(drain func()) error {
	c.once.Do(func() {
		c.err = c.shutdown(drain)
	})
	return c.err
}

func (c *Coordinator) shutdown(drain func()) error {
	var errs []error

	// 1. Прекращаем приём доставок
	c.logger.Info("shutdown: draining deliveries")
	if drain != nil {
		drain()
	}
	if err := c.conn.Cancel(); err != nil {
		// Отмена на мёртвом канале ожидаема; закрытие ниже всё равно выполнится.
		c.logger.Warn("shutdown: cancel consumer", "error", err)
	}

	// 2. Закрываем соединение (вместе с каналом)
	c.logger.Info("shutdown: closing connection")
	c.conn.Close()

	// 3. Останавливаем движок
	c.logger.Info("shutdown: stopping engine")
	if err := c.engine.Shutdown(); err != nil {
		c.logger.Error("shutdown: engine", "error", err)
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}

	// 4. Ждём закрытия соединения
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.conn.WaitClosed(ctx); err != nil {
		c.logger.Error("shutdown: connection did not close in time", "timeout", c.timeout)
		errs = append(errs, fmt.Errorf("%w after %s: %w", ErrCloseTimeout, c.timeout, err))
	} else {
		c.logger.Info("shutdown: complete")
	}

	return errors.Join(errs...)
}
