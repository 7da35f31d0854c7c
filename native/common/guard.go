package common

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause status consumed by engine guards.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the named module is paused. A nil view
// or empty module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseRegistry is the role-gated PauseView implementation shared by the
// protocol engines. Pausing is explicit stored state, not derived from role
// membership, so invariant checks can read it directly.
type PauseRegistry struct {
	mu     sync.RWMutex
	auth   *Authority
	paused map[string]bool
}

// NewPauseRegistry constructs a registry whose setters are gated on
// RolePauser in the supplied authority table.
func NewPauseRegistry(auth *Authority) *PauseRegistry {
	return &PauseRegistry{auth: auth, paused: make(map[string]bool)}
}

// SetPaused toggles the pause flag for the named module.
func (r *PauseRegistry) SetPaused(caller common.Address, module string, paused bool) error {
	if r == nil {
		return errors.New("pause registry not configured")
	}
	if err := r.auth.Require(RolePauser, caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if paused {
		r.paused[module] = true
	} else {
		delete(r.paused, module)
	}
	return nil
}

// IsPaused reports whether the named module is paused.
func (r *PauseRegistry) IsPaused(module string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[module]
}
