package mq

import "errors"

// Ошибки сессии с брокером.
var (
	// ErrConnection — транспортный сбой или закрытие соединения брокером.
	ErrConnection = errors.New("broker connection failed")

	// ErrTopology — объявление очереди отклонено (например, конфликт атрибутов).
	ErrTopology = errors.New("queue declaration failed")

	// ErrAck — подтверждение доставки не удалось; считается сбоем канала.
	ErrAck = errors.New("ack failed")

	// ErrInvalidTransition — переход, которого нет в таблице состояний.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotConsuming — операция требует открытого канала.
	ErrNotConsuming = errors.New("controller is not consuming")
)
