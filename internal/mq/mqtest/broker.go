// Package mqtest — фейковый брокер, удовлетворяющий mq.Connection и mq.Channel.
//
// Брокер хранит объявленные очереди между соединениями (как настоящий
// RabbitMQ), отклоняет повторное объявление с другими атрибутами кодом 406
// и позволяет тесту толкать доставки, ронять соединение и подвешивать Close.
package mqtest

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/krbridge/internal/mq"
)

// QueueAttrs — атрибуты объявленной очереди.
type QueueAttrs struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
}

// Broker — фейковый брокер.
type Broker struct {
	mu     sync.Mutex
	queues map[string]QueueAttrs
	conns  []*Conn

	// DialErr — ошибка, которую вернёт Dial.
	DialErr error

	// HangOnClose — Close новых соединений блокируется до ReleaseClose.
	HangOnClose bool

	// Ошибки, которые получат новые соединения и каналы.
	ChannelErr error
	QosErr     error
	ConsumeErr error
}

// NewBroker создаёт пустой брокер.
func NewBroker() *Broker {
	return &Broker{queues: make(map[string]QueueAttrs)}
}

// Dial — mq.Dialer.
func (b *Broker) Dial(url string) (mq.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.DialErr != nil {
		return nil, b.DialErr
	}

	conn := &Conn{
		URL:         url,
		broker:      b,
		hangOnClose: b.HangOnClose,
		release:     make(chan struct{}),
		channelErr:  b.ChannelErr,
	}
	b.conns = append(b.conns, conn)

	return conn, nil
}

// Dials возвращает число открытых соединений.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// LastConn возвращает последнее соединение или nil.
func (b *Broker) LastConn() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

// AddQueue создаёт очередь заранее (например, с конфликтующими атрибутами).
func (b *Broker) AddQueue(name string, attrs QueueAttrs) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[name] = attrs
}

// Queue возвращает атрибуты очереди.
func (b *Broker) Queue(name string) (QueueAttrs, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	attrs, ok := b.queues[name]
	return attrs, ok
}

// declare объявляет очередь или возвращает 406 при несовпадении атрибутов.
func (b *Broker) declare(name string, attrs QueueAttrs) *amqp.Error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.queues[name]
	if ok && existing != attrs {
		return &amqp.Error{
			Code:   amqp.PreconditionFailed,
			Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for queue '%s'", name),
		}
	}
	b.queues[name] = attrs
	return nil
}

// Conn — фейковое соединение.
type Conn struct {
	URL string

	broker      *Broker
	hangOnClose bool
	release     chan struct{}
	releaseOnce sync.Once

	mu       sync.Mutex
	closed   bool
	notify   []chan *amqp.Error
	channels []*Channel

	channelErr error
}

var _ mq.Connection = (*Conn)(nil)

// Channel открывает фейковый канал.
func (c *Conn) Channel() (mq.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	if c.channelErr != nil {
		return nil, c.channelErr
	}

	c.broker.mu.Lock()
	ch := &Channel{
		conn:       c,
		qosErr:     c.broker.QosErr,
		consumeErr: c.broker.ConsumeErr,
	}
	c.broker.mu.Unlock()

	c.channels = append(c.channels, ch)
	return ch, nil
}

// NotifyClose регистрирует получателя закрытия.
func (c *Conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

// Close закрывает соединение штатно.
func (c *Conn) Close() error {
	if c.hangOnClose {
		<-c.release
	}

	if c.IsClosed() {
		return amqp.ErrClosed
	}

	c.shutdown(nil)
	return nil
}

// IsClosed сообщает, закрыто ли соединение.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Drop имитирует закрытие соединения брокером.
func (c *Conn) Drop(err *amqp.Error) {
	c.shutdown(err)
}

// ReleaseClose отпускает подвешенный Close.
func (c *Conn) ReleaseClose() {
	c.releaseOnce.Do(func() { close(c.release) })
}

// LastChannel возвращает последний открытый канал или nil.
func (c *Conn) LastChannel() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.channels) == 0 {
		return nil
	}
	return c.channels[len(c.channels)-1]
}

// shutdown закрывает каналы и уведомляет подписчиков.
func (c *Conn) shutdown(err *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	notify := c.notify
	c.notify = nil
	channels := c.channels
	c.mu.Unlock()

	// Как amqp091-go: сначала причина, потом каналы, потом закрытие уведомлений.
	if err != nil {
		for _, n := range notify {
			select {
			case n <- err:
			default:
			}
		}
	}

	for _, ch := range channels {
		ch.shutdown(err)
	}

	for _, n := range notify {
		close(n)
	}
}
