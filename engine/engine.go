// Package engine owns one order book per symbol and turns match output into
// fill, release and publisher events. Exactly one worker goroutine drives
// an Engine; books are never shared across goroutines.
package engine

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"fenrir/domain/orderbook"
	"fenrir/infra/spsc"
	"fenrir/metrics"
)

// CancelRequest asks the owning worker to cancel a resting order. It flows
// through the same single-owner path as new orders so the FIFO and level
// invariants are never torn by an out-of-band writer.
type CancelRequest struct {
	Symbol  uint32
	OrderID uint64
}

type Engine struct {
	books map[uint32]*orderbook.Book

	orders  *spsc.Consumer[orderbook.Order]
	cancels *spsc.Consumer[CancelRequest]

	fills    *spsc.Producer[orderbook.Fills]
	releases *spsc.Producer[orderbook.Release]
	events   *spsc.Producer[orderbook.Event]

	log *zap.Logger
}

type Deps struct {
	Orders   *spsc.Consumer[orderbook.Order]
	Cancels  *spsc.Consumer[CancelRequest]
	Fills    *spsc.Producer[orderbook.Fills]
	Releases *spsc.Producer[orderbook.Release]
	Events   *spsc.Producer[orderbook.Event]
	Log      *zap.Logger
}

func New(d Deps) *Engine {
	return &Engine{
		books:    make(map[uint32]*orderbook.Book),
		orders:   d.Orders,
		cancels:  d.Cancels,
		fills:    d.Fills,
		releases: d.Releases,
		events:   d.Events,
		log:      d.Log,
	}
}

// ---- book management ----

func (e *Engine) AddBook(symbol uint32, arenaCapacity int) *orderbook.Book {
	b := orderbook.NewBook(symbol, arenaCapacity)
	e.books[symbol] = b
	return b
}

func (e *Engine) Book(symbol uint32) (*orderbook.Book, bool) {
	b, ok := e.books[symbol]
	return b, ok
}

func (e *Engine) RemoveBook(symbol uint32) {
	delete(e.books, symbol)
}

func (e *Engine) BookCount() int {
	return len(e.books)
}

func (e *Engine) HasBook(symbol uint32) bool {
	_, ok := e.books[symbol]
	return ok
}

// ---- worker loop ----

// Run polls the order and cancel rings until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("engine worker started", zap.Int("books", len(e.books)))
	for {
		didWork := e.Poll()
		if !didWork {
			select {
			case <-ctx.Done():
				e.log.Info("engine worker stopped")
				return
			default:
				runtime.Gosched()
			}
		}
	}
}

// Poll drains one round of work. Exposed for deterministic tests.
func (e *Engine) Poll() bool {
	didWork := false
	if o, ok := e.orders.Pop(); ok {
		e.Process(o)
		didWork = true
	}
	if c, ok := e.cancels.Pop(); ok {
		e.Cancel(c)
		didWork = true
	}
	return didWork
}

// Process routes one admitted order to its book and fans out the results.
// Funds are already locked, so any path that does not leave the full
// quantity resting must send the ledger a release for the difference.
func (e *Engine) Process(o orderbook.Order) {
	book, ok := e.books[o.Symbol]
	if !ok {
		metrics.OrdersRejected.Inc()
		res := orderbook.NewMatchResult(o.OrderID, o.Quantity)
		res.Outcome = orderbook.OutcomeRejected
		res.Err = orderbook.ErrUnknownSymbol
		e.release(o, o.Quantity, orderbook.ReleaseRejected)
		e.emitMatch(&res)
		return
	}

	res := book.Process(o)

	if !res.Fills.Empty() {
		metrics.TradesMatched.Add(float64(len(res.Fills.Fills)))
		for !e.fills.Push(res.Fills) {
			// fills carry money; back off, never drop
			runtime.Gosched()
		}
	}

	if res.RemainingQty > 0 && res.Outcome != orderbook.OutcomeResting {
		reason := orderbook.ReleaseUnfilled
		if res.Outcome == orderbook.OutcomeRejected {
			metrics.OrdersRejected.Inc()
			reason = orderbook.ReleaseRejected
		}
		e.release(o, res.RemainingQty, reason)
	}

	e.emitMatch(&res)
	e.emitLevels(book)
}

// Cancel runs a cancel through the book; unknown IDs stay silent.
func (e *Engine) Cancel(req CancelRequest) {
	book, ok := e.books[req.Symbol]
	if !ok {
		return
	}
	rel, ok := book.Cancel(req.OrderID)
	if !ok {
		return
	}
	metrics.FundsReleased.Inc()
	for !e.releases.Push(rel) {
		runtime.Gosched()
	}
	e.emitLevels(book)
}

func (e *Engine) release(o orderbook.Order, qty uint32, reason orderbook.ReleaseReason) {
	metrics.FundsReleased.Inc()
	rel := orderbook.Release{
		OrderID:  o.OrderID,
		UserID:   o.UserID,
		Price:    o.Price,
		Quantity: qty,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Reason:   reason,
	}
	for !e.releases.Push(rel) {
		runtime.Gosched()
	}
}

func (e *Engine) emitMatch(res *orderbook.MatchResult) {
	if !e.events.Push(orderbook.Event{Kind: orderbook.EventMatch, Match: res}) {
		metrics.EventsDropped.Inc()
	}
}

func (e *Engine) emitLevels(book *orderbook.Book) {
	for _, lu := range book.LevelUpdates() {
		if !e.events.Push(orderbook.Event{Kind: orderbook.EventLevel, Level: lu}) {
			metrics.EventsDropped.Inc()
		}
	}
}
