package registry

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/launchpad/internal/domain"
)

// Handle is exclusive access to one pool. It is valid until the release
// function returned by Acquire is called.
type Handle struct {
	token common.Address
	e     *entry
}

// Acquire locks the pool for a state change. A pool whose launch is in
// flight is rejected immediately, so a router calling back into the engine
// fails instead of blocking on its own launch.
func (r *Registry) Acquire(addr common.Address) (*Handle, func(), error) {
	e, err := r.entry(addr)
	if err != nil {
		return nil, nil, err
	}
	if e.launching.Load() {
		return nil, nil, domain.NewError(domain.KindNotTradable, "status", "launch of %s in progress", addr.Hex())
	}
	e.mu.Lock()
	// the launch may have started while we waited for the lock
	if e.launching.Load() {
		e.mu.Unlock()
		return nil, nil, domain.NewError(domain.KindNotTradable, "status", "launch of %s in progress", addr.Hex())
	}
	return &Handle{token: addr, e: e}, e.mu.Unlock, nil
}

// Token is the pool's token address.
func (h *Handle) Token() common.Address {
	return h.token
}

// Pool returns a working copy of the committed state.
func (h *Handle) Pool() *domain.Pool {
	return h.e.pool.Clone()
}

// Commit replaces the committed state with p.
func (h *Handle) Commit(p *domain.Pool) {
	h.e.pool = p.Clone()
}

// BeginLaunch marks the pool as launching. It returns false when another
// launch already holds the flag.
func (h *Handle) BeginLaunch() bool {
	return h.e.launching.CompareAndSwap(false, true)
}

// EndLaunch clears the launching flag.
func (h *Handle) EndLaunch() {
	h.e.launching.Store(false)
}

func amountOrZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return domain.Zero()
	}
	return x.Clone()
}
