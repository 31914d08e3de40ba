package engine

import (
	"fmt"
	"sync"
)

// heldKeys — ключи живых handle в процессе.
var heldKeys = struct {
	mu   sync.Mutex
	keys map[int]struct{}
}{keys: make(map[int]struct{})}

// acquireKey захватывает ключ или возвращает ErrEngineUnavailable.
func acquireKey(key int) error {
	if key <= 0 {
		return fmt.Errorf("%w: invalid shm key %d", ErrEngineUnavailable, key)
	}

	heldKeys.mu.Lock()
	defer heldKeys.mu.Unlock()

	if _, ok := heldKeys.keys[key]; ok {
		return fmt.Errorf("%w: shm key %d already in use", ErrEngineUnavailable, key)
	}
	heldKeys.keys[key] = struct{}{}

	return nil
}

// releaseKey освобождает ключ.
func releaseKey(key int) {
	heldKeys.mu.Lock()
	defer heldKeys.mu.Unlock()

	delete(heldKeys.keys, key)
}
