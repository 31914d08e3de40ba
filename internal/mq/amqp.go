package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel — операции AMQP канала, которые использует мост.
//
// *amqp.Channel удовлетворяет интерфейсу напрямую; в тестах
// используется mqtest.Broker.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Ack(tag uint64, multiple bool) error
	Cancel(consumer string, noWait bool) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Connection — транспортная сессия с брокером.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
	IsClosed() bool
}

// Dialer открывает соединение по URL.
type Dialer func(url string) (Connection, error)

// amqpConnection адаптирует *amqp.Connection к Connection.
type amqpConnection struct {
	*amqp.Connection
}

// Channel открывает новый канал.
func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP — Dialer поверх amqp091-go.
func DialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	return amqpConnection{conn}, nil
}
