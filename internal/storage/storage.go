package storage

import (
	"context"
	"errors"
	"sync"

	"authtoken/internal/domain/models"
)

var (
	ErrRecordNotFound = errors.New("token record not found")
	ErrRecordExists   = errors.New("token record already exists")
)

// SaveHook runs after a record has been written.
type SaveHook func(ctx context.Context, rec models.TokenRecord)

// Hooks is embedded by stores to expose AfterSave.
type Hooks struct {
	mu    sync.RWMutex
	hooks []SaveHook
}

// AfterSave registers hook to run after every successful save.
func (h *Hooks) AfterSave(hook SaveHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

// RunAfterSave calls the registered hooks in registration order.
func (h *Hooks) RunAfterSave(ctx context.Context, rec models.TokenRecord) {
	h.mu.RLock()
	hooks := h.hooks
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, rec)
	}
}
