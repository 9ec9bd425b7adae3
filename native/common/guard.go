package common

import coreerrors "deedmarket/core/errors"

// ErrModulePaused is the classified rejection returned while a module is
// administratively paused.
var ErrModulePaused = coreerrors.E(coreerrors.KindPaused, "module paused")

// PauseView exposes read-only pause state per module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or empty
// module name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
