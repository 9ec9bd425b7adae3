package common

import "sync"

// PauseRegistry is an explicit, instance-scoped pause switchboard. Multiple
// engine instances (e.g. per test) hold their own registry instead of sharing
// mutable globals.
type PauseRegistry struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseRegistry returns a registry with every module running.
func NewPauseRegistry() *PauseRegistry {
	return &PauseRegistry{paused: make(map[string]bool)}
}

// IsPaused implements PauseView.
func (r *PauseRegistry) IsPaused(module string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[module]
}

// SetPaused flips the pause flag for the named module.
func (r *PauseRegistry) SetPaused(module string, paused bool) {
	if r == nil || module == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused[module] = paused
}
