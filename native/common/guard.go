package common

import "errors"

// ErrModulePaused rejects mutating calls while a module-wide freeze is active.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the freeze state of a named module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the view reports the module frozen. A nil
// view or empty module name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
