package common

import (
	"errors"
	"sync"
)

// ErrModulePaused is returned by Guard when the named module is paused.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches consulted by mutating operations.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the module is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// SwitchSet is an in-memory PauseView with governance-settable switches.
type SwitchSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewSwitchSet() *SwitchSet {
	return &SwitchSet{paused: make(map[string]bool)}
}

// SetPaused flips the switch for a module.
func (s *SwitchSet) SetPaused(module string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[module] = paused
}

// IsPaused implements PauseView.
func (s *SwitchSet) IsPaused(module string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[module]
}
