package engine

import "errors"

// Ошибки жизненного цикла engine.
var (
	// ErrEngineUnavailable — ресурс shared-memory ключа не удалось захватить.
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrEngineProcessing — engine отклонил единицу работы или не смог её выполнить.
	ErrEngineProcessing = errors.New("engine processing failed")

	// ErrEngineShutdown — handle уже остановлен.
	ErrEngineShutdown = errors.New("engine already shut down")
)

// Ошибки разбора записей.
var (
	// ErrEmptyRecord — тело сообщения пустое.
	ErrEmptyRecord = errors.New("empty record")

	// ErrMalformedRecord — тело не является JSON-объектом.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrNestedField — поле записи содержит объект или массив.
	ErrNestedField = errors.New("nested field value")
)

// RecordError — ошибка разбора записи с контекстом.
//
// Всегда матчится с ErrEngineProcessing через errors.Is, чтобы диспетчер
// не различал причины отказа engine.
type RecordError struct {
	Field   string // поле, вызвавшее ошибку (пусто для ошибок всего тела)
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *RecordError) Error() string {
	if e.Field != "" {
		return "field " + e.Field + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку и ErrEngineProcessing.
func (e *RecordError) Unwrap() []error {
	return []error{e.Err, ErrEngineProcessing}
}

// NewRecordError создаёт новую ошибку разбора записи.
func NewRecordError(field, message string, err error) *RecordError {
	return &RecordError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
