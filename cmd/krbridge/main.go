// krbridge — потребитель RabbitMQ, передающий сообщения из krqueue движку.
//
// Использование:
//
//	krbridge [host]
//
// host — адрес брокера (default: 127.0.0.1), допускается host:port.
// Остальная конфигурация читается из переменных окружения (см. internal/config).
//
// Каждое сообщение передаётся движку (priority=1, mode=1) и подтверждается
// только после успешной обработки. SIGINT/SIGTERM останавливают приём,
// дожидаются текущего сообщения и закрывают соединение.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/krbridge/internal/bridge"
	"github.com/shaiso/krbridge/internal/config"
	"github.com/shaiso/krbridge/internal/engine"
	"github.com/shaiso/krbridge/internal/mq"
	"github.com/shaiso/krbridge/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

const httpShutdownTimeout = 5 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "krbridge [host]",
		Short:         "krbridge — RabbitMQ consumer feeding krqueue messages to the engine",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			host := config.DefaultHost
			if len(args) == 1 {
				host = args[0]
			}
			return run(cmd.Context(), host, deps{
				dial:       mq.DialAMQP,
				registerer: prometheus.DefaultRegisterer,
			})
		},
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// deps — внешние зависимости run, подменяемые в тестах.
type deps struct {
	dial       mq.Dialer
	registerer prometheus.Registerer
}

func run(ctx context.Context, host string, d deps) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting krbridge", "version", version)

	// Движок инициализируется до соединения с брокером
	handle, err := engine.Initialize(cfg.EngineShmKey, cfg.EngineWorkers,
		engine.WithLogger(logger),
		engine.WithReleaseTimeout(cfg.EngineReleaseTimeout),
	)
	if err != nil {
		logger.Error("failed to initialize engine", "error", err)
		return err
	}
	logger.Info("engine handle ready", "shm_key", handle.Key(), "workers", handle.Workers())

	metrics := telemetry.NewMetrics(d.registerer)

	controller := mq.NewController(mq.ControllerConfig{
		URL:      cfg.BrokerURL(host),
		Dial:     d.dial,
		Prefetch: cfg.Prefetch,
		Logger:   logger,
		Metrics:  metrics,
	})

	b := bridge.New(bridge.Config{
		Session:         controller,
		Engine:          handle,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
		Metrics:         metrics,
	})

	logger.Info("broker topology", "host", host, "topology", mq.TopologyInfo())

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.Run(ctx)
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newMux(controller),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, bridge.ErrCloseTimeout) {
			logger.Error("forced termination: connection did not close in time", "error", err)
		} else {
			logger.Error("krbridge stopped with error", "error", err)
		}
		return err
	}

	logger.Info("krbridge stopped")
	return nil
}

// stateReporter — источник состояния для /healthz.
type stateReporter interface {
	State() mq.State
}

// newMux возвращает HTTP mux: /healthz + /metrics.
// /healthz отвечает 200 только пока сессия в CONSUMING.
func newMux(session stateReporter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := session.State()
		if state != mq.StateConsuming {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(state.String()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
