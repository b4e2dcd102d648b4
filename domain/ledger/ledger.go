package ledger

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"fenrir/domain/orderbook"
)

// Ledger owns the preallocated account and holdings arenas. Accounts and
// holdings share one dense slot index space; the concurrent user index is
// the only way other components obtain a slot. Records are created once at
// registration and live for the process lifetime.
//
// CheckAndLockFunds, SettleFills and Release must be called from the single
// ledger worker goroutine (they maintain the reservation table). The query
// methods are safe from any goroutine: they are plain atomic loads.
type Ledger struct {
	accounts []Account

	// flat parallel arrays, indexed slot*symbols+symbol
	holdAvailable []atomic.Uint32
	holdReserved  []atomic.Uint32

	index    sync.Map // user ID -> uint32 slot
	nextSlot atomic.Uint32

	symbols        uint32
	defaultBalance uint64

	// reservations is single-writer state of the ledger worker; one entry
	// per live locked order, keyed by order ID.
	reservations map[uint64]*reservation
}

type reservation struct {
	slot      uint32
	price     uint64 // per-unit reservation price (bids only)
	remaining uint32
	symbol    uint32
	side      orderbook.Side
}

type Config struct {
	MaxUsers       int
	MaxSymbols     int
	DefaultBalance uint64
}

func New(cfg Config) *Ledger {
	return &Ledger{
		accounts:       make([]Account, cfg.MaxUsers),
		holdAvailable:  make([]atomic.Uint32, cfg.MaxUsers*cfg.MaxSymbols),
		holdReserved:   make([]atomic.Uint32, cfg.MaxUsers*cfg.MaxSymbols),
		symbols:        uint32(cfg.MaxSymbols),
		defaultBalance: cfg.DefaultBalance,
		reservations:   make(map[uint64]*reservation, 1024),
	}
}

// Register resolves a user to a slot, allocating one on first sight.
// The claim is a monotonic counter bump; LoadOrStore on the index is the
// single point of truth, so a racing second writer discards its claim and
// adopts the winner's slot.
func (l *Ledger) Register(userID uint64) (uint32, error) {
	if v, ok := l.index.Load(userID); ok {
		return v.(uint32), nil
	}

	slot := l.nextSlot.Add(1) - 1
	if int(slot) >= len(l.accounts) {
		return 0, ErrAccountsFull
	}

	// initialize before publishing the slot
	acct := &l.accounts[slot]
	acct.UserID = userID
	acct.available.Store(l.defaultBalance)

	actual, loaded := l.index.LoadOrStore(userID, slot)
	if loaded {
		// lost the first-touch race; the claimed slot stays unused
		return actual.(uint32), nil
	}
	return slot, nil
}

func (l *Ledger) slotOf(userID uint64) (uint32, error) {
	v, ok := l.index.Load(userID)
	if !ok {
		return 0, ErrUserNotFound
	}
	slot := v.(uint32)
	if int(slot) >= len(l.accounts) {
		return 0, ErrBalanceNotFound
	}
	return slot, nil
}

func (l *Ledger) holdingIdx(slot uint32, symbol uint32) int {
	return int(slot)*int(l.symbols) + int(symbol)
}

// CheckAndLockFunds reserves what the order needs before it may reach the
// engine: price*quantity of currency for a bid, the order quantity of
// holdings for an ask. On failure nothing is moved and the order must not
// be forwarded.
func (l *Ledger) CheckAndLockFunds(o *orderbook.Order) error {
	if o.Symbol >= l.symbols {
		return ErrInvalidSymbol
	}
	// a zero-quantity order would lock nothing but still leave a
	// reservation entry no release or fill ever clears
	if o.Quantity == 0 {
		return orderbook.ErrZeroQuantity
	}

	slot, err := l.Register(o.UserID)
	if err != nil {
		return err
	}
	acct := &l.accounts[slot]

	if o.Side == orderbook.Bid {
		// market bids reserve against the caller-supplied protection
		// price; without one the reservable notional is unbounded
		if o.Price == 0 {
			return ErrInsufficientFunds
		}
		if err := acct.tryReserve(o.Notional()); err != nil {
			return err
		}
	} else {
		idx := l.holdingIdx(slot, o.Symbol)
		if err := holdingReserve(&l.holdAvailable[idx], &l.holdReserved[idx], o.Quantity); err != nil {
			return err
		}
	}

	acct.recordOrder()
	l.reservations[o.OrderID] = &reservation{
		slot:      slot,
		price:     o.Price,
		remaining: o.Quantity,
		symbol:    o.Symbol,
		side:      o.Side,
	}
	return nil
}

// SettleFills applies each fill exactly once: the buyer's reserved notional
// is consumed (excess over the fill price released back to available), the
// seller's reserved holdings transfer to the buyer, and the seller is
// credited the settled notional. A fill that cannot settle cleanly is
// reported but does not stop the batch: the remaining fills belong to
// independent counterparties whose funds must still move.
func (l *Ledger) SettleFills(fs orderbook.Fills) error {
	var errs []error
	for _, f := range fs.Fills {
		if err := l.settleFill(f); err != nil {
			errs = append(errs, fmt.Errorf("settle fill taker=%d maker=%d: %w",
				f.TakerOrderID, f.MakerOrderID, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Ledger) settleFill(f orderbook.Fill) error {
	var buyOrder, sellOrder uint64
	if f.TakerSide == orderbook.Bid {
		buyOrder, sellOrder = f.TakerOrderID, f.MakerOrderID
	} else {
		buyOrder, sellOrder = f.MakerOrderID, f.TakerOrderID
	}

	buyRes, ok := l.reservations[buyOrder]
	if !ok {
		return fmt.Errorf("buy order %d has no reservation: %w", buyOrder, ErrReservationUnderflow)
	}
	sellRes, ok := l.reservations[sellOrder]
	if !ok {
		return fmt.Errorf("sell order %d has no reservation: %w", sellOrder, ErrReservationUnderflow)
	}

	buyer := &l.accounts[buyRes.slot]
	seller := &l.accounts[sellRes.slot]
	notional := f.Notional()

	// Buyer: consume the notional reserved for these units at the buyer's
	// reservation price, releasing any price improvement. A fill above the
	// reservation price would settle funds that were never locked; refuse
	// it before touching either account.
	reservedNotional := buyRes.price * uint64(f.Quantity)
	if notional > reservedNotional {
		return fmt.Errorf("fill notional %d exceeds reserved %d: %w",
			notional, reservedNotional, ErrReservationUnderflow)
	}
	if err := buyer.consumeReserved(reservedNotional); err != nil {
		return err
	}
	if excess := reservedNotional - notional; excess > 0 {
		buyer.creditAvailable(excess)
	}
	l.holdAvailable[l.holdingIdx(buyRes.slot, f.Symbol)].Add(f.Quantity)

	// Seller: reserved holdings leave the account, currency arrives.
	if err := holdingConsumeReserved(&l.holdReserved[l.holdingIdx(sellRes.slot, f.Symbol)], f.Quantity); err != nil {
		return err
	}
	seller.creditAvailable(notional)

	buyer.recordTrade(notional)
	seller.recordTrade(notional)

	l.consumeReservation(buyOrder, buyRes, f.Quantity)
	l.consumeReservation(sellOrder, sellRes, f.Quantity)
	return nil
}

func (l *Ledger) consumeReservation(orderID uint64, r *reservation, qty uint32) {
	if qty >= r.remaining {
		delete(l.reservations, orderID)
		return
	}
	r.remaining -= qty
}

// Release returns an unused reservation (cancel, discarded market
// remainder, post-lock rejection) to the available side. Unknown order IDs
// are a no-op: the reservation may already be fully settled.
func (l *Ledger) Release(rel orderbook.Release) error {
	r, ok := l.reservations[rel.OrderID]
	if !ok {
		return nil
	}

	qty := rel.Quantity
	if qty > r.remaining {
		qty = r.remaining
	}

	if r.side == orderbook.Bid {
		if err := l.accounts[r.slot].releaseReserved(r.price * uint64(qty)); err != nil {
			return err
		}
	} else {
		idx := l.holdingIdx(r.slot, r.symbol)
		if err := holdingConsumeReserved(&l.holdReserved[idx], qty); err != nil {
			return err
		}
		l.holdAvailable[idx].Add(qty)
	}

	l.consumeReservation(rel.OrderID, r, qty)
	return nil
}

// ---- query path: atomic loads only, no locks ----

func (l *Ledger) Balance(userID uint64) (BalanceResponse, error) {
	slot, err := l.slotOf(userID)
	if err != nil {
		return BalanceResponse{}, err
	}
	acct := &l.accounts[slot]
	return BalanceResponse{
		AvailableBalance: acct.Available(),
		ReservedBalance:  acct.Reserved(),
	}, nil
}

func (l *Ledger) Holdings(userID uint64, symbol uint32) (HoldingsResponse, error) {
	if symbol >= l.symbols {
		return HoldingsResponse{}, ErrInvalidSymbol
	}
	slot, err := l.slotOf(userID)
	if err != nil {
		return HoldingsResponse{}, err
	}
	idx := l.holdingIdx(slot, symbol)
	return HoldingsResponse{
		Available: l.holdAvailable[idx].Load(),
		Reserved:  l.holdReserved[idx].Load(),
	}, nil
}

// Users returns the number of registered accounts.
func (l *Ledger) Users() int {
	n := int(l.nextSlot.Load())
	if n > len(l.accounts) {
		n = len(l.accounts)
	}
	return n
}

// Deposit credits available funds outside the trading flow. Test and
// bootstrap helper; deposits proper are out of scope.
func (l *Ledger) Deposit(userID uint64, amount uint64) error {
	slot, err := l.Register(userID)
	if err != nil {
		return err
	}
	l.accounts[slot].creditAvailable(amount)
	return nil
}

// DepositHoldings seeds sellable holdings for a user.
func (l *Ledger) DepositHoldings(userID uint64, symbol uint32, qty uint32) error {
	if symbol >= l.symbols {
		return ErrInvalidSymbol
	}
	slot, err := l.Register(userID)
	if err != nil {
		return err
	}
	l.holdAvailable[l.holdingIdx(slot, symbol)].Add(qty)
	return nil
}
