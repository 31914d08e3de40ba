// Package bridge связывает сессию RabbitMQ с движком.
//
// Структура:
//   - dispatcher.go — доставка → engine.Process → ack
//   - shutdown.go   — упорядоченная остановка
//   - bridge.go     — запуск сессии и цикл ожидания событий
//
// Гарантия доставки at-least-once: ack отправляется только после того,
// как движок принял сообщение. Ошибка движка оставляет доставку
// неподтверждённой, и брокер вернёт её в очередь при закрытии канала.
// Сбой между успехом движка и ack приводит к повторной доставке;
// идемпотентность обеспечивает движок.
//
// Порядок остановки:
//  1. прекратить приём доставок и дождаться текущей (basic.cancel)
//  2. закрыть соединение
//  3. остановить движок (ровно один раз)
//  4. дождаться закрытия соединения, не дольше SHUTDOWN_TIMEOUT
package bridge
