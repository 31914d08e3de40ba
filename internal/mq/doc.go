// Package mq предоставляет сессию потребителя RabbitMQ для krbridge.
//
// Структура:
//   - amqp.go       — интерфейсы Connection/Channel и Dialer поверх amqp091-go
//   - state.go      — состояния Controller и таблица переходов
//   - controller.go — жизненный цикл соединения, канала и потребителя
//   - topology.go   — объявление очереди krqueue
//
// Жизненный цикл:
//
//	INIT → CONNECTING → CONNECTED → CHANNEL_OPEN → CONSUMING → CLOSING → CLOSED
//
// Очередь:
//   - krqueue — durable, non-exclusive, без auto-delete, default exchange
//
// Доставки подтверждаются вручную (auto-ack выключен) и только через
// Controller.Ack. Переподключения нет: потеря соединения завершает сессию.
package mq
