package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Mux routes each task type to its own ExecutorFunc. Kernels register themselves at startup.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]ExecutorFunc
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]ExecutorFunc)}
}

// Handle registers fn for taskType, replacing any previous registration.
func (m *Mux) Handle(taskType string, fn ExecutorFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[taskType] = fn
}

func (m *Mux) Execute(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error) {
	m.mu.RLock()
	fn, ok := m.handlers[taskType]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskType)
	}
	return fn(ctx, payload)
}
