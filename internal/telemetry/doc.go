// Package telemetry обеспечивает наблюдаемость моста.
//
// Включает:
//   - logging.go — structured logging через slog (JSON или цветной текст через tint)
//   - metrics.go — Prometheus метрики доставок, engine и состояния соединения
//
// Метрики отдаются на /metrics, если задан METRICS_ADDR.
package telemetry
