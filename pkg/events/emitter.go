// Package events is a small typed pub/sub used to observe pipeline components
// without coupling them to their listeners.
package events

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Handler receives one event. A returned error (or a panic) is logged and does
// not stop delivery to the remaining handlers.
type Handler[T any] func(event T) error

type Emitter[T any] struct {
	mu       sync.RWMutex
	handlers map[string][]Handler[T]
}

func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{handlers: make(map[string][]Handler[T])}
}

// On registers handler for name. Handlers run in registration order.
func (e *Emitter[T]) On(name string, handler Handler[T]) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[string][]Handler[T])
	}
	e.handlers[name] = append(e.handlers[name], handler)
}

// Emit calls every handler registered for name and returns how many succeeded.
// A nil Emitter drops events.
func (e *Emitter[T]) Emit(name string, event T) int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	handlers := append([]Handler[T](nil), e.handlers[name]...)
	e.mu.RUnlock()

	delivered := 0
	for i, handler := range handlers {
		if err := safeCall(handler, event); err != nil {
			log.Error().Err(err).Str("event", name).Int("handler", i).Msg("event handling error")
			continue
		}
		delivered++
	}
	return delivered
}

// Count returns the number of handlers registered for name.
func (e *Emitter[T]) Count(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[name])
}

func safeCall[T any](handler Handler[T], event T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(event)
}
