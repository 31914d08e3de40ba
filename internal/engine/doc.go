// Package engine — handle процессингового engine, которому мост передаёт тела сообщений.
//
// # Обзор
//
// Engine живёт весь процесс: создаётся один раз при старте и
// останавливается один раз при завершении. Его идентичность задают
// shared-memory ключ и число воркеров:
//
//	h, err := engine.Initialize(74561, 5,
//	    engine.WithLogger(logger),
//	)
//	if err != nil {
//	    // errors.Is(err, engine.ErrEngineUnavailable)
//	}
//	defer h.Shutdown()
//
//	outcome, err := h.Process(ctx, 1, engine.ModeSync, body)
//
// # Ключ
//
// Ключ — ресурс процесса: пока handle с ключом жив, повторный Initialize
// с тем же ключом возвращает ErrEngineUnavailable. Shutdown освобождает ключ.
//
// # Воркеры
//
// Единицы работы выполняются в пуле ants размером workerCount.
// Process синхронен для вызывающего:
//   - ModeSync (1) — ждёт завершения обработки, OutcomeCompleted
//   - ModeAsync (0) — ждёт только приёма в пул, OutcomeAccepted
//
// # Processor
//
// Что именно делает engine с телом, определяет Processor. По умолчанию
// используется RecordProcessor: тело — плоский JSON-объект, поля
// адресуются по имени. Паника в Processor превращается в ErrEngineProcessing.
//
// # Ошибки
//
//   - ErrEngineUnavailable — Initialize не смог захватить ключ или создать пул
//   - ErrEngineProcessing — единица работы отклонена (доставка не подтверждается)
//   - ErrEngineShutdown — повторный Shutdown или Process после Shutdown
package engine
