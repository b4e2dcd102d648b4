package ledger

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"fenrir/domain/orderbook"
	"fenrir/infra/sequence"
	"fenrir/infra/spsc"
	"fenrir/metrics"
)

// Worker is the single goroutine driving the ledger: it admits orders from
// the inbound ring (locking funds before forwarding to the engine), settles
// fills, applies releases, and answers point queries. The rings are polled
// independently; no cross-ring ordering is assumed.
type Worker struct {
	ledger *Ledger
	seq    *sequence.Sequencer

	inbound  *spsc.Consumer[orderbook.Order]
	toEngine *spsc.Producer[orderbook.Order]
	fills    *spsc.Consumer[orderbook.Fills]
	releases *spsc.Consumer[orderbook.Release]
	events   *spsc.Producer[orderbook.Event]

	balanceQ  chan BalanceQuery
	holdingsQ chan HoldingsQuery

	log *zap.Logger
}

type WorkerDeps struct {
	Ledger    *Ledger
	Seq       *sequence.Sequencer
	Inbound   *spsc.Consumer[orderbook.Order]
	ToEngine  *spsc.Producer[orderbook.Order]
	Fills     *spsc.Consumer[orderbook.Fills]
	Releases  *spsc.Consumer[orderbook.Release]
	Events    *spsc.Producer[orderbook.Event]
	BalanceQ  chan BalanceQuery
	HoldingsQ chan HoldingsQuery
	Log       *zap.Logger
}

func NewWorker(d WorkerDeps) *Worker {
	return &Worker{
		ledger:    d.Ledger,
		seq:       d.Seq,
		inbound:   d.Inbound,
		toEngine:  d.ToEngine,
		fills:     d.Fills,
		releases:  d.Releases,
		events:    d.Events,
		balanceQ:  d.BalanceQ,
		holdingsQ: d.HoldingsQ,
		log:       d.Log,
	}
}

// Run polls every source until ctx is cancelled, yielding when idle.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("ledger worker started")
	for {
		didWork := w.Poll()
		if !didWork {
			select {
			case <-ctx.Done():
				w.log.Info("ledger worker stopped")
				return
			default:
				runtime.Gosched()
			}
		}
	}
}

// Poll drains one round of work from every source. Exposed so tests can
// drive the worker deterministically without a goroutine.
func (w *Worker) Poll() bool {
	didWork := false

	if o, ok := w.inbound.Pop(); ok {
		w.admit(o)
		didWork = true
	}
	if w.drainEngineOutput() {
		didWork = true
	}

	select {
	case q := <-w.balanceQ:
		resp, err := w.ledger.Balance(q.UserID)
		resp.Err = err
		q.Resp <- resp
		didWork = true
	default:
	}
	select {
	case q := <-w.holdingsQ:
		resp, err := w.ledger.Holdings(q.UserID, q.Symbol)
		resp.Err = err
		q.Resp <- resp
		didWork = true
	default:
	}

	return didWork
}

// drainEngineOutput applies one fill batch and one release if present.
func (w *Worker) drainEngineOutput() bool {
	didWork := false
	if fs, ok := w.fills.Pop(); ok {
		if err := w.ledger.SettleFills(fs); err != nil {
			metrics.SettlementFaults.Inc()
			w.log.Error("settlement consistency fault", zap.Error(err))
		}
		didWork = true
	}
	if rel, ok := w.releases.Pop(); ok {
		if err := w.ledger.Release(rel); err != nil {
			metrics.SettlementFaults.Inc()
			w.log.Error("release consistency fault",
				zap.Uint64("order_id", rel.OrderID), zap.Error(err))
		}
		didWork = true
	}
	return didWork
}

// admit locks funds and forwards; a failed lock never reaches the engine
// and surfaces as an explicit rejection event instead.
func (w *Worker) admit(o orderbook.Order) {
	if err := w.ledger.CheckAndLockFunds(&o); err != nil {
		metrics.OrdersRejected.Inc()
		w.reject(o, err)
		return
	}

	o.Timestamp = w.seq.Next()
	metrics.OrdersAdmitted.Inc()

	for !w.toEngine.Push(o) {
		// the engine may itself be stalled pushing fills or releases;
		// keep consuming its output so the two rings cannot wedge full
		// against each other
		if !w.drainEngineOutput() {
			runtime.Gosched()
		}
	}
}

func (w *Worker) reject(o orderbook.Order, cause error) {
	res := orderbook.NewMatchResult(o.OrderID, o.Quantity)
	res.Outcome = orderbook.OutcomeRejected
	res.Err = cause

	if !w.events.Push(orderbook.Event{Kind: orderbook.EventMatch, Match: &res}) {
		metrics.EventsDropped.Inc()
	}
}
