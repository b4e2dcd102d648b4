package ledger

import "sync/atomic"

// reserveRetryLimit bounds the CAS loops. Contention is per-user, so in
// practice a handful of retries suffice; past the bound the lock step
// reports ErrBalanceLockingFailed instead of spinning forever.
const reserveRetryLimit = 64

// Account is one user's balance record. Five 64-bit fields plus padding
// keep it exactly one cache line, so unrelated accounts never share a line.
// All mutation goes through the atomic operations below.
type Account struct {
	UserID uint64 // written once at registration, before the slot is published

	available   atomic.Uint64
	reserved    atomic.Uint64
	totalTraded atomic.Uint64
	orderCount  atomic.Uint64

	_ [24]byte
}

func (a *Account) Available() uint64 { return a.available.Load() }
func (a *Account) Reserved() uint64  { return a.reserved.Load() }
func (a *Account) TotalTraded() uint64 {
	return a.totalTraded.Load()
}
func (a *Account) OrderCount() uint64 { return a.orderCount.Load() }

// tryReserve moves amount from available to reserved in a single atomic
// check-then-move per field. Concurrent orders from the same user cannot
// both pass a stale check: the CAS re-validates the balance on every
// attempt.
func (a *Account) tryReserve(amount uint64) error {
	for i := 0; i < reserveRetryLimit; i++ {
		cur := a.available.Load()
		if cur < amount {
			return ErrInsufficientFunds
		}
		if a.available.CompareAndSwap(cur, cur-amount) {
			a.reserved.Add(amount)
			return nil
		}
	}
	return ErrBalanceLockingFailed
}

// consumeReserved removes settled funds from the reserved bucket.
// Underflow is an invariant violation, not something to clamp.
func (a *Account) consumeReserved(amount uint64) error {
	for i := 0; i < reserveRetryLimit; i++ {
		cur := a.reserved.Load()
		if cur < amount {
			return ErrReservationUnderflow
		}
		if a.reserved.CompareAndSwap(cur, cur-amount) {
			return nil
		}
	}
	return ErrBalanceLockingFailed
}

// releaseReserved moves amount back from reserved to available.
// available + reserved is unchanged, as for any reservation movement.
func (a *Account) releaseReserved(amount uint64) error {
	if err := a.consumeReserved(amount); err != nil {
		return err
	}
	a.available.Add(amount)
	return nil
}

func (a *Account) creditAvailable(amount uint64) {
	a.available.Add(amount)
}

func (a *Account) recordTrade(notional uint64) {
	a.totalTraded.Add(notional)
}

func (a *Account) recordOrder() {
	a.orderCount.Add(1)
}

// holdingSlot applies the same reserve/consume/release discipline to one
// per-symbol holdings counter.
type holdingSlot = atomic.Uint32

func holdingReserve(avail, reserved *holdingSlot, qty uint32) error {
	for i := 0; i < reserveRetryLimit; i++ {
		cur := avail.Load()
		if cur < qty {
			return ErrInsufficientFunds
		}
		if avail.CompareAndSwap(cur, cur-qty) {
			reserved.Add(qty)
			return nil
		}
	}
	return ErrBalanceLockingFailed
}

func holdingConsumeReserved(reserved *holdingSlot, qty uint32) error {
	for i := 0; i < reserveRetryLimit; i++ {
		cur := reserved.Load()
		if cur < qty {
			return ErrReservationUnderflow
		}
		if reserved.CompareAndSwap(cur, cur-qty) {
			return nil
		}
	}
	return ErrBalanceLockingFailed
}
