package orderbook

// Book is single-writer and deterministic: exactly one worker goroutine owns
// it, so matching needs no locking. Incoming orders either cross and match
// against the opposite side or rest at their price level; cancellation runs
// through the same owner to keep the FIFO and volume invariants intact.
type Book struct {
	Symbol uint32
	Bids   *RBTree
	Asks   *RBTree

	arena   *Arena
	updates []LevelUpdate // scratch, valid until the next operation
}

func NewBook(symbol uint32, arenaCapacity int) *Book {
	return &Book{
		Symbol:  symbol,
		Bids:    NewRBTree(),
		Asks:    NewRBTree(),
		arena:   NewArena(arenaCapacity),
		updates: make([]LevelUpdate, 0, 16),
	}
}

// Process admits one incoming order: validate, match while it crosses, then
// rest any limit remainder. A market remainder is discarded (never rests).
// Rejection happens strictly before any book mutation.
func (b *Book) Process(o Order) MatchResult {
	b.updates = b.updates[:0]

	res := NewMatchResult(o.OrderID, o.Quantity)
	if o.Quantity == 0 {
		res.Outcome = OutcomeRejected
		res.Err = ErrZeroQuantity
		return res
	}
	if o.Symbol != b.Symbol {
		res.Outcome = OutcomeRejected
		res.Err = ErrUnknownSymbol
		return res
	}

	if b.crosses(&o) {
		if o.Side == Bid {
			b.matchBid(&o, &res)
		} else {
			b.matchAsk(&o, &res)
		}
	}

	switch {
	case o.Quantity == 0:
		res.Outcome = OutcomeFilled
	case o.Type == Market:
		// unfilled market remainder is discarded
		res.Outcome = OutcomeFilled
	default:
		b.rest(o, &res)
	}
	return res
}

// Cancel removes a resting order, returning the release the ledger needs.
// Unknown IDs are a no-op: the order may have filled or been cancelled
// already, and repeated cancellation must stay silent.
func (b *Book) Cancel(orderID uint64) (Release, bool) {
	b.updates = b.updates[:0]

	o := b.arena.Get(orderID)
	if o == nil {
		return Release{}, false
	}

	tree := b.sideTree(o.Side)
	rel := Release{
		OrderID:  o.OrderID,
		UserID:   o.UserID,
		Price:    o.Price,
		Quantity: o.Quantity,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Reason:   ReleaseCancel,
	}

	if lvl := tree.FindLevel(o.Price); lvl != nil {
		lvl.Unlink(o)
		b.noteLevel(o.Side, lvl.Price, lvl.TotalVolume)
		if lvl.Empty() {
			tree.DeleteLevel(lvl.Price)
		}
	}
	b.arena.Remove(orderID)
	return rel, true
}

// LevelUpdates reports the levels touched by the last Process/Cancel call.
func (b *Book) LevelUpdates() []LevelUpdate {
	return b.updates
}

// LiveOrders returns the number of orders resting on the book.
func (b *Book) LiveOrders() int {
	return b.arena.Live()
}

// BestBid returns the highest populated bid price.
func (b *Book) BestBid() (uint64, bool) {
	if lvl := b.Bids.MaxLevel(); lvl != nil {
		return lvl.Price, true
	}
	return 0, false
}

// BestAsk returns the lowest populated ask price.
func (b *Book) BestAsk() (uint64, bool) {
	if lvl := b.Asks.MinLevel(); lvl != nil {
		return lvl.Price, true
	}
	return 0, false
}

// ---- matching ----

func (b *Book) crosses(o *Order) bool {
	if o.Type == Market {
		return true
	}
	if o.Side == Bid {
		best := b.Asks.MinLevel()
		return best != nil && o.Price >= best.Price
	}
	best := b.Bids.MaxLevel()
	return best != nil && o.Price <= best.Price
}

func (b *Book) matchBid(o *Order, res *MatchResult) {
	for o.Quantity > 0 {
		best := b.Asks.MinLevel()
		if best == nil {
			return
		}
		// a market bid's price is its protection cap; funds were reserved
		// at that price, so fills above it must never happen. Zero means
		// unconstrained.
		if best.Price > o.Price && (o.Type != Market || o.Price != 0) {
			return
		}
		b.matchAtLevel(o, best, res, Ask)
	}
}

func (b *Book) matchAsk(o *Order, res *MatchResult) {
	for o.Quantity > 0 {
		best := b.Bids.MaxLevel()
		if best == nil {
			return
		}
		// a market ask's price is its protection floor
		if best.Price < o.Price && (o.Type != Market || o.Price != 0) {
			return
		}
		b.matchAtLevel(o, best, res, Bid)
	}
}

// matchAtLevel consumes the level FIFO-first until either the level or the
// incoming order is exhausted. Emitted fills are final: book state already
// reflects them by the time the caller sees the result.
func (b *Book) matchAtLevel(o *Order, lvl *PriceLevel, res *MatchResult, makerSide Side) {
	for o.Quantity > 0 && !lvl.Empty() {
		maker := lvl.Head()
		trade := min32(o.Quantity, maker.Quantity)

		res.add(Fill{
			Price:        lvl.Price,
			Quantity:     trade,
			TakerOrderID: o.OrderID,
			MakerOrderID: maker.OrderID,
			TakerSide:    o.Side,
			MakerUserID:  maker.UserID,
			TakerUserID:  o.UserID,
			Symbol:       b.Symbol,
		})

		o.Quantity = satSub32(o.Quantity, trade)
		maker.Quantity = satSub32(maker.Quantity, trade)
		lvl.Reduce(trade)

		if maker.Quantity == 0 {
			lvl.PopHead()
			b.arena.Remove(maker.OrderID)
		}
	}

	b.noteLevel(makerSide, lvl.Price, lvl.TotalVolume)
	if lvl.TotalVolume == 0 || lvl.Empty() {
		b.sideTree(makerSide).DeleteLevel(lvl.Price)
	}
}

func (b *Book) rest(o Order, res *MatchResult) {
	stored, err := b.arena.Insert(o)
	if err != nil {
		res.Err = err
		if res.Fills.Empty() {
			res.Outcome = OutcomeRejected
		} else {
			// fills already applied; only the remainder is refused
			res.Outcome = OutcomeFilled
		}
		return
	}

	lvl := b.sideTree(o.Side).UpsertLevel(o.Price)
	lvl.Enqueue(stored)
	b.noteLevel(o.Side, lvl.Price, lvl.TotalVolume)
	res.Outcome = OutcomeResting
}

func (b *Book) sideTree(s Side) *RBTree {
	if s == Bid {
		return b.Bids
	}
	return b.Asks
}

func (b *Book) noteLevel(side Side, price uint64, volume uint32) {
	b.updates = append(b.updates, LevelUpdate{
		Symbol:      b.Symbol,
		Side:        side,
		Price:       price,
		TotalVolume: volume,
	})
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
