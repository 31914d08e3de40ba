package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/shaiso/krbridge/internal/telemetry"
)

// Processor выполняет единицу работы внутри воркера engine.
type Processor interface {
	Process(ctx context.Context, task Task) error
}

// ProcessorFunc — адаптер для использования функции как Processor.
type ProcessorFunc func(ctx context.Context, task Task) error

// Process реализует интерфейс Processor.
func (f ProcessorFunc) Process(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// Record — плоская запись: имя поля → скалярное значение.
// Числа сохраняются как json.Number.
type Record map[string]any

// RecordSink получает разобранную запись.
type RecordSink func(ctx context.Context, priority int, rec Record) error

// RecordProcessor разбирает тело как плоский JSON-объект и передаёт его в Sink.
//
// Логгер берётся из контекста (telemetry.WithLogger), чтобы записи
// несли атрибуты доставки.
type RecordProcessor struct {
	// Sink — получатель записей (опционально; если nil — запись только логируется).
	Sink RecordSink
}

// Process реализует интерфейс Processor.
func (p *RecordProcessor) Process(ctx context.Context, task Task) error {
	rec, err := DecodeRecord(task.Body)
	if err != nil {
		return err
	}

	telemetry.FromContext(ctx).Debug("record decoded", "priority", task.Priority, "fields", len(rec))

	if p.Sink == nil {
		return nil
	}
	return p.Sink(ctx, task.Priority, rec)
}

// DecodeRecord разбирает тело в Record.
//
// Пустое тело, не-объект и вложенные объекты/массивы отклоняются
// с *RecordError.
func DecodeRecord(body []byte) (Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, NewRecordError("", "record body is empty", ErrEmptyRecord)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, NewRecordError("", "record is not a JSON object: "+err.Error(), ErrMalformedRecord)
	}
	if rec == nil {
		return nil, NewRecordError("", "record is null", ErrMalformedRecord)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, NewRecordError("", "trailing data after record", ErrMalformedRecord)
	}

	for name, val := range rec {
		switch val.(type) {
		case map[string]any, []any:
			return nil, NewRecordError(name, "nested values are not supported", ErrNestedField)
		}
	}

	return rec, nil
}
