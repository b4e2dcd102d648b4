package orderbook

import "errors"

var (
	ErrZeroQuantity  = errors.New("order has zero quantity")
	ErrUnknownSymbol = errors.New("order routed to wrong book")
	ErrBookFull      = errors.New("order arena at capacity")
)

// Fill is produced by a successful match and is immutable once created.
// The taker is the incoming order that caused the match; the maker was
// resting on the book.
type Fill struct {
	Price        uint64
	Quantity     uint32
	TakerOrderID uint64
	MakerOrderID uint64
	TakerSide    Side
	MakerUserID  uint64
	TakerUserID  uint64
	Symbol       uint32
}

// Notional is the settled currency amount of the fill.
func (f Fill) Notional() uint64 {
	return f.Price * uint64(f.Quantity)
}

// Fills is the ordered fill sequence of one processed order.
type Fills struct {
	Fills []Fill
}

func (fs *Fills) Add(f Fill) {
	fs.Fills = append(fs.Fills, f)
}

func (fs *Fills) Empty() bool {
	return len(fs.Fills) == 0
}

type Outcome uint8

const (
	// OutcomeFilled covers every terminal non-resting state of an accepted
	// order, including a market order discarded with remainder.
	OutcomeFilled Outcome = iota
	OutcomeResting
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResting:
		return "resting"
	case OutcomeRejected:
		return "rejected"
	default:
		return "filled"
	}
}

// MatchResult accumulates fill-by-fill as the matching loop progresses and
// is terminal once the order is fully filled, rests, or is rejected.
type MatchResult struct {
	OrderID      uint64
	Fills        Fills
	RemainingQty uint32
	Outcome      Outcome
	Err          error // reject/capacity kind, nil otherwise
}

func NewMatchResult(orderID uint64, initialQty uint32) MatchResult {
	return MatchResult{OrderID: orderID, RemainingQty: initialQty}
}

func (r *MatchResult) add(f Fill) {
	r.RemainingQty = satSub32(r.RemainingQty, f.Quantity)
	r.Fills.Add(f)
}

type ReleaseReason uint8

const (
	ReleaseCancel ReleaseReason = iota
	ReleaseUnfilled
	ReleaseRejected
)

// Release tells the ledger to return a reservation (or its remainder) to
// the available side: cancellation, discarded market remainder, or a
// rejection after funds were already locked.
type Release struct {
	OrderID  uint64
	UserID   uint64
	Price    uint64
	Quantity uint32
	Symbol   uint32
	Side     Side
	Reason   ReleaseReason
}

// LevelUpdate reports the new total volume of a touched price level.
// Volume zero means the level was removed.
type LevelUpdate struct {
	Symbol      uint32
	Side        Side
	Price       uint64
	TotalVolume uint32
}

type EventKind uint8

const (
	EventMatch EventKind = iota
	EventLevel
)

// Event is the union delivered to the downstream publisher.
type Event struct {
	Kind  EventKind
	Match *MatchResult
	Level LevelUpdate
}

func satSub32(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}
