package orderbook

// Arena is fixed-capacity, index-addressed storage for live orders. It owns
// order lifetime: resting orders live in its slots, freed slots are recycled
// through the free list. The backing slice never grows past its reserved
// capacity, so *Order pointers into it stay stable for the book's lifetime.
type Arena struct {
	slots     []Order
	idToIndex map[uint64]uint32
	freeList  []uint32
}

func NewArena(capacity int) *Arena {
	return &Arena{
		slots:     make([]Order, 0, capacity),
		idToIndex: make(map[uint64]uint32, capacity),
		freeList:  make([]uint32, 0, 64),
	}
}

// Insert stores the order in a recycled slot if one is free, else appends.
// Returns ErrBookFull once the reserved capacity is exhausted; the arena
// never reallocates mid-match.
func (a *Arena) Insert(o Order) (*Order, error) {
	var idx uint32
	if n := len(a.freeList); n > 0 {
		idx = a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.slots[idx] = o
	} else {
		if len(a.slots) == cap(a.slots) {
			return nil, ErrBookFull
		}
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, o)
	}

	stored := &a.slots[idx]
	stored.slot = idx
	stored.next = nil
	stored.prev = nil
	a.idToIndex[o.OrderID] = idx
	return stored, nil
}

// Get returns the live order, or nil if the ID is unknown.
func (a *Arena) Get(orderID uint64) *Order {
	idx, ok := a.idToIndex[orderID]
	if !ok {
		return nil
	}
	return &a.slots[idx]
}

// Remove frees the order's slot. Unknown IDs are a silent no-op so that
// cancelling an already-filled order is always safe.
func (a *Arena) Remove(orderID uint64) (Order, bool) {
	idx, ok := a.idToIndex[orderID]
	if !ok {
		return Order{}, false
	}
	delete(a.idToIndex, orderID)

	o := a.slots[idx]
	a.slots[idx] = Order{}
	a.freeList = append(a.freeList, idx)

	o.next = nil
	o.prev = nil
	return o, true
}

// Live returns the number of orders currently resident.
func (a *Arena) Live() int {
	return len(a.idToIndex)
}

func (a *Arena) Cap() int {
	return cap(a.slots)
}
