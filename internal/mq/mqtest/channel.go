package mqtest

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/krbridge/internal/mq"
)

const deliveryBuffer = 64

// Channel — фейковый AMQP канал.
type Channel struct {
	conn *Conn

	mu          sync.Mutex
	closed      bool
	notify      []chan *amqp.Error
	deliveries  chan amqp.Delivery
	consumerTag string
	nextTag     uint64
	acks        []uint64
	declared    []string
	prefetch    int

	onAck      func(tag uint64)
	ackErr     error
	qosErr     error
	consumeErr error
	cancelErr  error
}

var _ mq.Channel = (*Channel)(nil)

// QueueDeclare объявляет очередь в брокере. Конфликт атрибутов закрывает
// канал с 406, как это делает RabbitMQ.
func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, _ bool, _ amqp.Table) (amqp.Queue, error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return amqp.Queue{}, amqp.ErrClosed
	}
	ch.mu.Unlock()

	attrs := QueueAttrs{Durable: durable, AutoDelete: autoDelete, Exclusive: exclusive}
	if err := ch.conn.broker.declare(name, attrs); err != nil {
		ch.shutdown(err)
		return amqp.Queue{}, err
	}

	ch.mu.Lock()
	ch.declared = append(ch.declared, name)
	ch.mu.Unlock()

	return amqp.Queue{Name: name}, nil
}

// Qos запоминает prefetch.
func (ch *Channel) Qos(prefetchCount, _ int, _ bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.qosErr != nil {
		return ch.qosErr
	}
	ch.prefetch = prefetchCount
	return nil
}

// Consume регистрирует потребителя и возвращает канал доставок.
func (ch *Channel) Consume(_, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if ch.consumeErr != nil {
		return nil, ch.consumeErr
	}

	ch.consumerTag = consumer
	ch.deliveries = make(chan amqp.Delivery, deliveryBuffer)
	return ch.deliveries, nil
}

// Deliver толкает доставку потребителю и возвращает её delivery-tag.
// Теги монотонно растут с 1, как у брокера.
func (ch *Channel) Deliver(contentType string, body []byte) uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.deliveries == nil || ch.closed {
		return 0
	}

	ch.nextTag++
	ch.deliveries <- amqp.Delivery{
		ContentType: contentType,
		DeliveryTag: ch.nextTag,
		ConsumerTag: ch.consumerTag,
		Body:        body,
	}
	return ch.nextTag
}

// Ack записывает подтверждение.
func (ch *Channel) Ack(tag uint64, _ bool) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return amqp.ErrClosed
	}
	if ch.ackErr != nil {
		ch.mu.Unlock()
		return ch.ackErr
	}
	ch.acks = append(ch.acks, tag)
	onAck := ch.onAck
	ch.mu.Unlock()

	if onAck != nil {
		onAck(tag)
	}
	return nil
}

// Cancel отменяет потребителя и закрывает канал доставок.
func (ch *Channel) Cancel(_ string, _ bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.cancelErr != nil {
		return ch.cancelErr
	}
	if ch.deliveries != nil {
		close(ch.deliveries)
		ch.deliveries = nil
	}
	return nil
}

// NotifyClose регистрирует получателя закрытия.
func (ch *Channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notify = append(ch.notify, receiver)
	return receiver
}

// Close закрывает канал штатно.
func (ch *Channel) Close() error {
	ch.shutdown(nil)
	return nil
}

// SetAckErr задаёт ошибку для последующих Ack.
func (ch *Channel) SetAckErr(err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.ackErr = err
}

// SetCancelErr задаёт ошибку для последующих Cancel.
func (ch *Channel) SetCancelErr(err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.cancelErr = err
}

// SetOnAck задаёт хук, вызываемый после каждого успешного Ack.
func (ch *Channel) SetOnAck(fn func(tag uint64)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onAck = fn
}

// Acks возвращает подтверждённые теги в порядке подтверждения.
func (ch *Channel) Acks() []uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]uint64(nil), ch.acks...)
}

// Declared возвращает объявленные на канале очереди.
func (ch *Channel) Declared() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]string(nil), ch.declared...)
}

// Prefetch возвращает значение, переданное в Qos.
func (ch *Channel) Prefetch() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.prefetch
}

// ConsumerTag возвращает тег зарегистрированного потребителя.
func (ch *Channel) ConsumerTag() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.consumerTag
}

// IsClosed сообщает, закрыт ли канал.
func (ch *Channel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

// CloseWithError имитирует закрытие канала брокером.
func (ch *Channel) CloseWithError(err *amqp.Error) {
	ch.shutdown(err)
}

func (ch *Channel) shutdown(err *amqp.Error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	notify := ch.notify
	ch.notify = nil
	if ch.deliveries != nil {
		close(ch.deliveries)
		ch.deliveries = nil
	}
	ch.mu.Unlock()

	for _, n := range notify {
		if err != nil {
			select {
			case n <- err:
			default:
			}
		}
		close(n)
	}
}
