package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue — тип для имени очереди.
type Queue string

// QueueKR — единственная очередь, которую потребляет мост.
const QueueKR Queue = "krqueue"

// Атрибуты очереди фиксированы: очередь переживает рестарт брокера,
// доступна другим соединениям и не удаляется без потребителей.
const (
	queueDurable    = true
	queueAutoDelete = false
	queueExclusive  = false
)

// Declare объявляет очередь с фиксированными атрибутами.
//
// Повторное объявление с теми же атрибутами идемпотентно. Конфликт
// с уже существующей очередью (406 PRECONDITION_FAILED) возвращается
// как ErrTopology; брокер при этом закрывает канал.
func Declare(ch Channel, name Queue) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		string(name),    // name
		queueDurable,    // durable
		queueAutoDelete, // delete when unused
		queueExclusive,  // exclusive
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("%w: declare queue %s: %w", ErrTopology, name, err)
	}

	return q, nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  krbridge RabbitMQ Topology:

    (default exchange)
    └── krqueue [durable, non-exclusive, no auto-delete]
            Consumer: krbridge (manual ack after engine handoff)
  `
}
