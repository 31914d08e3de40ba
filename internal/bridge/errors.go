package bridge

import "errors"

// Ошибки моста.
var (
	// ErrDeliveriesClosed — канал доставок закрыт клиентом брокера
	// (отмена потребителя, закрытие канала или соединения).
	ErrDeliveriesClosed = errors.New("deliveries channel closed")

	// ErrCloseTimeout — соединение не закрылось за SHUTDOWN_TIMEOUT;
	// процесс завершается принудительно.
	ErrCloseTimeout = errors.New("connection close timed out")
)
