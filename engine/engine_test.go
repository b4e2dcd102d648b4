package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fenrir/domain/orderbook"
	"fenrir/infra/spsc"
)

type engineHarness struct {
	engine *Engine

	orders   *spsc.Producer[orderbook.Order]
	cancels  *spsc.Producer[CancelRequest]
	fills    *spsc.Consumer[orderbook.Fills]
	releases *spsc.Consumer[orderbook.Release]
	events   *spsc.Consumer[orderbook.Event]
}

func newEngineHarness(t *testing.T, symbols ...uint32) *engineHarness {
	t.Helper()

	orderP, orderC := spsc.New[orderbook.Order](64)
	cancelP, cancelC := spsc.New[CancelRequest](64)
	fillP, fillC := spsc.New[orderbook.Fills](64)
	releaseP, releaseC := spsc.New[orderbook.Release](64)
	eventP, eventC := spsc.New[orderbook.Event](256)

	e := New(Deps{
		Orders:   orderC,
		Cancels:  cancelC,
		Fills:    fillP,
		Releases: releaseP,
		Events:   eventP,
		Log:      zap.NewNop(),
	})
	for _, s := range symbols {
		e.AddBook(s, 1024)
	}

	return &engineHarness{
		engine:   e,
		orders:   orderP,
		cancels:  cancelP,
		fills:    fillC,
		releases: releaseC,
		events:   eventC,
	}
}

func (h *engineHarness) drain() {
	for h.engine.Poll() {
	}
}

func order(id uint64, symbol uint32, side orderbook.Side, price uint64, qty uint32) orderbook.Order {
	return orderbook.Order{
		OrderID:  id,
		UserID:   id + 1000,
		Price:    price,
		Quantity: qty,
		Symbol:   symbol,
		Side:     side,
		Type:     orderbook.Limit,
	}
}

func TestRoutesOrdersBySymbol(t *testing.T) {
	h := newEngineHarness(t, 1, 2)

	h.orders.Push(order(1, 1, orderbook.Ask, 100, 10))
	h.orders.Push(order(2, 2, orderbook.Ask, 200, 20))
	h.drain()

	b1, _ := h.engine.Book(1)
	b2, _ := h.engine.Book(2)
	best1, ok := b1.BestAsk()
	require.True(t, ok)
	assert.Equal(t, uint64(100), best1)
	best2, ok := b2.BestAsk()
	require.True(t, ok)
	assert.Equal(t, uint64(200), best2)
}

func TestMatchProducesFillsAndEvents(t *testing.T) {
	h := newEngineHarness(t, 1)

	h.orders.Push(order(1, 1, orderbook.Ask, 100, 10))
	h.drain()
	h.orders.Push(order(2, 1, orderbook.Bid, 100, 10))
	h.drain()

	fs, ok := h.fills.Pop()
	require.True(t, ok, "match must emit fills to the ledger")
	require.Len(t, fs.Fills, 1)
	assert.Equal(t, uint64(100), fs.Fills[0].Price)
	assert.Equal(t, uint32(10), fs.Fills[0].Quantity)

	// both orders produce a match event; fills also touch a level
	sawMatch, sawLevel := false, false
	for {
		ev, ok := h.events.Pop()
		if !ok {
			break
		}
		switch ev.Kind {
		case orderbook.EventMatch:
			sawMatch = true
		case orderbook.EventLevel:
			sawLevel = true
		}
	}
	assert.True(t, sawMatch)
	assert.True(t, sawLevel)
}

func TestUnknownSymbolRejectsAndReleases(t *testing.T) {
	h := newEngineHarness(t, 1)

	h.orders.Push(order(1, 9, orderbook.Bid, 100, 10))
	h.drain()

	rel, ok := h.releases.Pop()
	require.True(t, ok, "rejected order must release its locked funds")
	assert.Equal(t, uint32(10), rel.Quantity)
	assert.Equal(t, orderbook.ReleaseRejected, rel.Reason)

	ev, ok := h.events.Pop()
	require.True(t, ok)
	require.Equal(t, orderbook.EventMatch, ev.Kind)
	assert.Equal(t, orderbook.OutcomeRejected, ev.Match.Outcome)
	assert.ErrorIs(t, ev.Match.Err, orderbook.ErrUnknownSymbol)
}

func TestMarketRemainderReleases(t *testing.T) {
	h := newEngineHarness(t, 1)

	h.orders.Push(order(1, 1, orderbook.Ask, 100, 10))
	h.drain()

	o := order(2, 1, orderbook.Bid, 100, 25)
	o.Type = orderbook.Market
	h.orders.Push(o)
	h.drain()

	_, ok := h.fills.Pop()
	require.True(t, ok)

	rel, ok := h.releases.Pop()
	require.True(t, ok, "discarded market remainder must release")
	assert.Equal(t, uint32(15), rel.Quantity)
	assert.Equal(t, orderbook.ReleaseUnfilled, rel.Reason)
}

func TestRestingOrderReleasesNothing(t *testing.T) {
	h := newEngineHarness(t, 1)

	h.orders.Push(order(1, 1, orderbook.Bid, 100, 10))
	h.drain()

	_, ok := h.releases.Pop()
	assert.False(t, ok, "a fully resting order keeps its reservation")
}

func TestCancelFlowsThroughEngine(t *testing.T) {
	h := newEngineHarness(t, 1)

	h.orders.Push(order(1, 1, orderbook.Bid, 100, 10))
	h.drain()

	h.cancels.Push(CancelRequest{Symbol: 1, OrderID: 1})
	h.drain()

	rel, ok := h.releases.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), rel.OrderID)
	assert.Equal(t, uint32(10), rel.Quantity)
	assert.Equal(t, orderbook.ReleaseCancel, rel.Reason)

	b, _ := h.engine.Book(1)
	assert.Equal(t, 0, b.LiveOrders())
}

func TestCancelUnknownOrderStaysSilent(t *testing.T) {
	h := newEngineHarness(t, 1)

	h.cancels.Push(CancelRequest{Symbol: 1, OrderID: 42})
	h.cancels.Push(CancelRequest{Symbol: 9, OrderID: 1})
	h.drain()

	_, ok := h.releases.Pop()
	assert.False(t, ok)
	_, ok = h.events.Pop()
	assert.False(t, ok)
}

func TestBookManagement(t *testing.T) {
	h := newEngineHarness(t)

	assert.Equal(t, 0, h.engine.BookCount())
	h.engine.AddBook(5, 16)
	assert.True(t, h.engine.HasBook(5))
	assert.Equal(t, 1, h.engine.BookCount())

	h.engine.RemoveBook(5)
	assert.False(t, h.engine.HasBook(5))
	assert.Equal(t, 0, h.engine.BookCount())
}
