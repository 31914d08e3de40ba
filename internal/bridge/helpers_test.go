package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaiso/krbridge/internal/engine"
	"github.com/shaiso/krbridge/internal/mq"
	"github.com/shaiso/krbridge/internal/mq/mqtest"
)

const waitTimeout = 2 * time.Second

var errRejected = errors.New("record rejected")

// events — общий журнал событий движка и сессии в порядке их наступления.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, fmt.Sprintf(format, args...))
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

// index возвращает позицию первого события или -1.
func (e *events) index(name string) int {
	for i, ev := range e.all() {
		if ev == name {
			return i
		}
	}
	return -1
}

type processCall struct {
	Priority int
	Mode     engine.Mode
	Body     string
}

// fakeEngine записывает вызовы и позволяет отклонять или задерживать тела.
type fakeEngine struct {
	events *events

	mu        sync.Mutex
	calls     []processCall
	reject    map[string]bool
	block     map[string]chan struct{}
	entered   chan string
	shutdowns int
}

func newFakeEngine(ev *events) *fakeEngine {
	return &fakeEngine{
		events:  ev,
		reject:  make(map[string]bool),
		block:   make(map[string]chan struct{}),
		entered: make(chan string, 64),
	}
}

// Block задерживает Process для body до вызова возвращённой функции.
func (f *fakeEngine) Block(body string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block[body] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeEngine) Reject(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject[body] = true
}

func (f *fakeEngine) Process(ctx context.Context, priority int, mode engine.Mode, body []byte) (engine.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, processCall{Priority: priority, Mode: mode, Body: string(body)})
	reject := f.reject[string(body)]
	block := f.block[string(body)]
	f.mu.Unlock()

	f.events.add("process:%s", body)
	select {
	case f.entered <- string(body):
	default:
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	f.events.add("processed:%s", body)

	if reject {
		return 0, fmt.Errorf("%w: %w", engine.ErrEngineProcessing, errRejected)
	}
	return engine.OutcomeCompleted, nil
}

func (f *fakeEngine) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events.add("engine-shutdown")
	f.shutdowns++
	if f.shutdowns > 1 {
		return engine.ErrEngineShutdown
	}
	return nil
}

func (f *fakeEngine) Calls() []processCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]processCall(nil), f.calls...)
}

func (f *fakeEngine) Shutdowns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

// recordingSession пишет в журнал ack, cancel и close поверх mq.Controller.
type recordingSession struct {
	*mq.Controller
	events *events
}

func (s *recordingSession) Ack(tag uint64) error {
	err := s.Controller.Ack(tag)
	if err == nil {
		s.events.add("ack:%d", tag)
	}
	return err
}

func (s *recordingSession) Cancel() error {
	s.events.add("cancel")
	return s.Controller.Cancel()
}

func (s *recordingSession) Close() {
	s.events.add("close")
	s.Controller.Close()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newSession(broker *mqtest.Broker, ev *events) *recordingSession {
	return &recordingSession{
		Controller: mq.NewController(mq.ControllerConfig{
			URL:    "amqp://test",
			Dial:   broker.Dial,
			Logger: discardLogger(),
		}),
		events: ev,
	}
}

// waitConsuming ждёт, пока сессия начнёт потребление, и возвращает канал брокера.
func waitConsuming(t *testing.T, broker *mqtest.Broker, s *recordingSession) *mqtest.Channel {
	t.Helper()

	require.Eventually(t, func() bool {
		return s.State() == mq.StateConsuming
	}, waitTimeout, time.Millisecond)

	return broker.LastConn().LastChannel()
}

// waitEntered ждёт, пока движок начнёт обрабатывать body.
func waitEntered(t *testing.T, f *fakeEngine, body string) {
	t.Helper()

	timeout := time.After(waitTimeout)
	for {
		select {
		case got := <-f.entered:
			if got == body {
				return
			}
		case <-timeout:
			t.Fatalf("engine never received %q", body)
		}
	}
}

func waitAcks(t *testing.T, ch *mqtest.Channel, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(ch.Acks()) >= n
	}, waitTimeout, time.Millisecond)
}

// runResult запускает fn в горутине и возвращает канал с её ошибкой.
func runResult(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
		return nil
	}
}
