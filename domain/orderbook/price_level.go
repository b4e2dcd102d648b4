package orderbook

// PriceLevel is a FIFO queue of resting orders at a single price.
// TotalVolume tracks the sum of remaining quantities; it is kept in
// lockstep with the queue by the book's matching and cancel paths.
type PriceLevel struct {
	Price uint64

	head *Order
	tail *Order

	TotalVolume uint32
	OrderCount  int
}

func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	p.TotalVolume += o.Quantity
	p.OrderCount++
}

func (p *PriceLevel) PopHead() *Order {
	o := p.head
	if o == nil {
		return nil
	}

	p.head = o.next
	if p.head != nil {
		p.head.prev = nil
	} else {
		p.tail = nil
	}

	o.next = nil
	o.prev = nil

	p.TotalVolume = satSub32(p.TotalVolume, o.Quantity)
	p.OrderCount--

	return o
}

// Unlink removes an order from anywhere in the queue (cancel path).
func (p *PriceLevel) Unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}

	o.next = nil
	o.prev = nil

	p.TotalVolume = satSub32(p.TotalVolume, o.Quantity)
	p.OrderCount--
}

// Reduce shrinks the running volume after a partial fill of the head.
func (p *PriceLevel) Reduce(qty uint32) {
	p.TotalVolume = satSub32(p.TotalVolume, qty)
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Head returns the oldest resting order.
func (p *PriceLevel) Head() *Order {
	return p.head
}
