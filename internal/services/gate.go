package services

import (
	"fmt"
	"sync"
)

// OperationGate serializes maintenance operations. The live file tree and the
// version settings are a single exclusively-mutated resource: exactly one
// update, backup or restore may run at a time per installation. A second
// trigger is rejected immediately, never queued.
type OperationGate struct {
	mu      sync.Mutex
	busy    bool
	current string
}

// NewOperationGate creates a new OperationGate.
func NewOperationGate() *OperationGate {
	return &OperationGate{}
}

// TryAcquire claims the gate for the named operation. It returns
// ErrConcurrentOperation when another operation holds it.
func (g *OperationGate) TryAcquire(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return fmt.Errorf("%w: %s is running", ErrConcurrentOperation, g.current)
	}
	g.busy = true
	g.current = name
	return nil
}

// Release frees the gate.
func (g *OperationGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy = false
	g.current = ""
}

// Current returns the name of the running operation, or "" when idle.
func (g *OperationGate) Current() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.busy {
		return ""
	}
	return g.current
}
