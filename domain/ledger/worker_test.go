package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fenrir/domain/orderbook"
	"fenrir/infra/sequence"
	"fenrir/infra/spsc"
)

type workerHarness struct {
	worker *Worker
	ledger *Ledger

	inbound  *spsc.Producer[orderbook.Order]
	toEngine *spsc.Consumer[orderbook.Order]
	fills    *spsc.Producer[orderbook.Fills]
	releases *spsc.Producer[orderbook.Release]
	events   *spsc.Consumer[orderbook.Event]

	balanceQ  chan BalanceQuery
	holdingsQ chan HoldingsQuery
}

func newWorkerHarness(t *testing.T) *workerHarness {
	t.Helper()

	inboundP, inboundC := spsc.New[orderbook.Order](64)
	toEngineP, toEngineC := spsc.New[orderbook.Order](64)
	fillP, fillC := spsc.New[orderbook.Fills](64)
	releaseP, releaseC := spsc.New[orderbook.Release](64)
	eventP, eventC := spsc.New[orderbook.Event](64)

	led := newTestLedger()
	balanceQ := make(chan BalanceQuery, 8)
	holdingsQ := make(chan HoldingsQuery, 8)

	w := NewWorker(WorkerDeps{
		Ledger:    led,
		Seq:       sequence.New(1),
		Inbound:   inboundC,
		ToEngine:  toEngineP,
		Fills:     fillC,
		Releases:  releaseC,
		Events:    eventP,
		BalanceQ:  balanceQ,
		HoldingsQ: holdingsQ,
		Log:       zap.NewNop(),
	})

	return &workerHarness{
		worker:    w,
		ledger:    led,
		inbound:   inboundP,
		toEngine:  toEngineC,
		fills:     fillP,
		releases:  releaseP,
		events:    eventC,
		balanceQ:  balanceQ,
		holdingsQ: holdingsQ,
	}
}

func (h *workerHarness) drain() {
	for h.worker.Poll() {
	}
}

func TestWorkerAdmitsFundedOrder(t *testing.T) {
	h := newWorkerHarness(t)
	require.NoError(t, h.ledger.Deposit(1, 10000))

	h.inbound.Push(*bidOrder(10, 1, 100, 10))
	h.drain()

	o, ok := h.toEngine.Pop()
	require.True(t, ok, "funded order must reach the engine ring")
	assert.Equal(t, uint64(10), o.OrderID)
	assert.NotZero(t, o.Timestamp, "admission must stamp the sequence")

	bal, _ := h.ledger.Balance(1)
	assert.Equal(t, uint64(1000), bal.ReservedBalance)
}

func TestWorkerAdmissionStampsMonotonicSequence(t *testing.T) {
	h := newWorkerHarness(t)
	require.NoError(t, h.ledger.Deposit(1, 100000))

	for i := uint64(1); i <= 5; i++ {
		h.inbound.Push(*bidOrder(i, 1, 100, 1))
		h.drain()
	}

	var prev uint64
	for i := 0; i < 5; i++ {
		o, ok := h.toEngine.Pop()
		require.True(t, ok)
		assert.Greater(t, o.Timestamp, prev)
		prev = o.Timestamp
	}
}

func TestWorkerRejectsUnfundedOrder(t *testing.T) {
	h := newWorkerHarness(t)

	h.inbound.Push(*bidOrder(10, 1, 100, 10))
	h.drain()

	_, ok := h.toEngine.Pop()
	assert.False(t, ok, "unfunded order must not reach the engine")

	ev, ok := h.events.Pop()
	require.True(t, ok, "rejection must surface as an event")
	assert.Equal(t, orderbook.EventMatch, ev.Kind)
	assert.Equal(t, orderbook.OutcomeRejected, ev.Match.Outcome)
	assert.ErrorIs(t, ev.Match.Err, ErrInsufficientFunds)
}

func TestWorkerSettlesFills(t *testing.T) {
	h := newWorkerHarness(t)
	require.NoError(t, h.ledger.Deposit(1, 10000))
	require.NoError(t, h.ledger.DepositHoldings(2, 1, 10))

	h.inbound.Push(*bidOrder(10, 1, 100, 10))
	h.drain()
	h.inbound.Push(*askOrder(11, 2, 100, 10))
	h.drain()

	h.fills.Push(fill(100, 10, 10, 11, orderbook.Bid))
	h.drain()

	bal, _ := h.ledger.Balance(1)
	assert.Equal(t, uint64(0), bal.ReservedBalance)
	hold, _ := h.ledger.Holdings(1, 1)
	assert.Equal(t, uint32(10), hold.Available)
}

func TestWorkerAppliesReleases(t *testing.T) {
	h := newWorkerHarness(t)
	require.NoError(t, h.ledger.Deposit(1, 10000))

	h.inbound.Push(*bidOrder(10, 1, 100, 10))
	h.drain()

	h.releases.Push(orderbook.Release{
		OrderID: 10, Quantity: 10, Symbol: 1,
		Side: orderbook.Bid, Reason: orderbook.ReleaseCancel,
	})
	h.drain()

	bal, _ := h.ledger.Balance(1)
	assert.Equal(t, uint64(10000), bal.AvailableBalance)
	assert.Equal(t, uint64(0), bal.ReservedBalance)
}

func TestWorkerAnswersQueries(t *testing.T) {
	h := newWorkerHarness(t)
	require.NoError(t, h.ledger.Deposit(1, 7777))
	require.NoError(t, h.ledger.DepositHoldings(1, 1, 42))

	bq := NewBalanceQuery(1)
	h.balanceQ <- bq
	h.drain()
	resp := <-bq.Resp
	require.NoError(t, resp.Err)
	assert.Equal(t, uint64(7777), resp.AvailableBalance)

	hq := NewHoldingsQuery(1, 1)
	h.holdingsQ <- hq
	h.drain()
	hresp := <-hq.Resp
	require.NoError(t, hresp.Err)
	assert.Equal(t, uint32(42), hresp.Available)
}

func TestWorkerRejectsZeroQuantityOrder(t *testing.T) {
	h := newWorkerHarness(t)
	require.NoError(t, h.ledger.Deposit(1, 10000))

	h.inbound.Push(*bidOrder(10, 1, 100, 0))
	h.drain()

	_, ok := h.toEngine.Pop()
	assert.False(t, ok, "zero-quantity order must not reach the engine")

	ev, ok := h.events.Pop()
	require.True(t, ok)
	assert.Equal(t, orderbook.OutcomeRejected, ev.Match.Outcome)
	assert.ErrorIs(t, ev.Match.Err, orderbook.ErrZeroQuantity)

	bal, _ := h.ledger.Balance(1)
	assert.Equal(t, uint64(0), bal.ReservedBalance)
}

// With single-slot rings, a stalled engine ring must not stop the worker
// from applying fills and releases arriving from the engine.
func TestWorkerDrainsEngineOutputWhileForwardRingFull(t *testing.T) {
	inboundP, inboundC := spsc.New[orderbook.Order](1)
	toEngineP, toEngineC := spsc.New[orderbook.Order](1)
	_, fillC := spsc.New[orderbook.Fills](1)
	releaseP, releaseC := spsc.New[orderbook.Release](1)
	eventP, _ := spsc.New[orderbook.Event](64)

	led := newTestLedger()
	require.NoError(t, led.Deposit(1, 10000))

	w := NewWorker(WorkerDeps{
		Ledger:    led,
		Seq:       sequence.New(1),
		Inbound:   inboundC,
		ToEngine:  toEngineP,
		Fills:     fillC,
		Releases:  releaseC,
		Events:    eventP,
		BalanceQ:  make(chan BalanceQuery, 1),
		HoldingsQ: make(chan HoldingsQuery, 1),
		Log:       zap.NewNop(),
	})

	// first order fills the engine ring
	inboundP.Push(*bidOrder(10, 1, 100, 10))
	for w.Poll() {
	}
	require.Equal(t, 1, toEngineC.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	// second order makes the worker spin on the full engine ring
	inboundP.Push(*bidOrder(11, 1, 100, 10))

	// a release for the first order must still be applied while the
	// worker waits for ring space
	releaseP.Push(orderbook.Release{
		OrderID: 10, Quantity: 10, Symbol: 1,
		Side: orderbook.Bid, Reason: orderbook.ReleaseCancel,
	})
	require.Eventually(t, func() bool {
		bal, err := led.Balance(1)
		return err == nil && bal.ReservedBalance == 1000
	}, 5*time.Second, time.Millisecond, "release not applied while forward ring full")

	// free the engine ring; the stalled admit completes
	_, ok := toEngineC.Pop()
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return toEngineC.Len() == 1
	}, 5*time.Second, time.Millisecond, "stalled order never forwarded")

	cancel()
	<-done
}

func TestWorkerQueryUnknownUser(t *testing.T) {
	h := newWorkerHarness(t)

	bq := NewBalanceQuery(404)
	h.balanceQ <- bq
	h.drain()
	resp := <-bq.Resp
	assert.ErrorIs(t, resp.Err, ErrUserNotFound)
}
