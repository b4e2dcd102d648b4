package orderbook

type Side uint8
type OrderType uint8

const (
	Bid Side = iota
	Ask
)

const (
	Limit OrderType = iota
	Market
)

func (s Side) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Order is a pure domain entity. Once inserted into the arena it is owned
// exclusively by the book's worker; everything else refers to it by ID.
type Order struct {
	OrderID   uint64
	UserID    uint64
	Price     uint64
	Quantity  uint32 // remaining, mutated in place by partial fills
	Symbol    uint32
	Timestamp uint64

	Side Side
	Type OrderType

	// intrusive FIFO links, owned by the price level
	next *Order
	prev *Order
	slot uint32
}

// Next supports read-only traversal of a level's queue.
func (o *Order) Next() *Order {
	return o.next
}

// Notional is the currency amount the order commits at its limit price.
func (o *Order) Notional() uint64 {
	return o.Price * uint64(o.Quantity)
}
