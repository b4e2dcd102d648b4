// Package service wires the ledger worker, the matching engine and the
// publisher together over their rings and exposes the submission API.
//
// Topology:
//
//	clients -> inbound ring -> ledger worker -> order ring -> engine
//	engine  -> fill ring    -> ledger worker
//	engine  -> release ring -> ledger worker
//	engine  -> event ring   -> publisher
//	ledger  -> event ring   -> publisher
//
// Every ring has exactly one producing and one consuming goroutine.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fenrir/config"
	"fenrir/domain/ledger"
	"fenrir/domain/orderbook"
	"fenrir/engine"
	"fenrir/infra/sequence"
	"fenrir/infra/spsc"
	"fenrir/jobs/publisher"
	"fenrir/metrics"
)

type Service struct {
	ledger *ledger.Ledger
	worker *ledger.Worker
	engine *engine.Engine
	pub    *publisher.Publisher

	inbound *spsc.Producer[orderbook.Order]
	cancels *spsc.Producer[engine.CancelRequest]

	balanceQ  chan ledger.BalanceQuery
	holdingsQ chan ledger.HoldingsQuery

	ringDepths map[string]func() int

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.Logger
}

// Deps carries the optional I/O boundary. A nil Publisher leaves the event
// rings draining nowhere, which is fine for tests that only exercise the
// core path.
type Deps struct {
	Config    *config.Config
	Publisher publisher.Deps // Outbox/Trades/Market may be nil
	Log       *zap.Logger
}

func New(d Deps) *Service {
	cfg := d.Config
	log := d.Log

	ringCap := uint64(cfg.Engine.RingCapacity)
	eventCap := uint64(cfg.Engine.EventRingCapacity)

	inboundP, inboundC := spsc.New[orderbook.Order](ringCap)
	toEngineP, toEngineC := spsc.New[orderbook.Order](ringCap)
	cancelP, cancelC := spsc.New[engine.CancelRequest](ringCap)
	fillP, fillC := spsc.New[orderbook.Fills](ringCap)
	releaseP, releaseC := spsc.New[orderbook.Release](ringCap)
	engineEvP, engineEvC := spsc.New[orderbook.Event](eventCap)
	ledgerEvP, ledgerEvC := spsc.New[orderbook.Event](eventCap)

	led := ledger.New(ledger.Config{
		MaxUsers:       int(cfg.Ledger.MaxUsers),
		MaxSymbols:     int(cfg.Ledger.MaxSymbols),
		DefaultBalance: cfg.Ledger.DefaultBalance,
	})

	balanceQ := make(chan ledger.BalanceQuery, 64)
	holdingsQ := make(chan ledger.HoldingsQuery, 64)

	worker := ledger.NewWorker(ledger.WorkerDeps{
		Ledger:    led,
		Seq:       sequence.New(1),
		Inbound:   inboundC,
		ToEngine:  toEngineP,
		Fills:     fillC,
		Releases:  releaseC,
		Events:    ledgerEvP,
		BalanceQ:  balanceQ,
		HoldingsQ: holdingsQ,
		Log:       log.Named("ledger"),
	})

	eng := engine.New(engine.Deps{
		Orders:   toEngineC,
		Cancels:  cancelC,
		Fills:    fillP,
		Releases: releaseP,
		Events:   engineEvP,
		Log:      log.Named("engine"),
	})
	for _, sym := range cfg.Engine.Symbols {
		eng.AddBook(sym, cfg.Engine.ArenaCapacity)
	}

	var pub *publisher.Publisher
	if d.Publisher.Outbox != nil || d.Publisher.Market != nil {
		pd := d.Publisher
		pd.EngineEvents = engineEvC
		pd.LedgerEvents = ledgerEvC
		if pd.FlushInterval <= 0 {
			pd.FlushInterval = cfg.Outbox.FlushInterval
		}
		if pd.TradeTopic == "" {
			pd.TradeTopic = cfg.Kafka.TradesTopic
		}
		if pd.Log == nil {
			pd.Log = log.Named("publisher")
		}
		pub = publisher.New(pd)
	}

	return &Service{
		ledger:    led,
		worker:    worker,
		engine:    eng,
		pub:       pub,
		inbound:   inboundP,
		cancels:   cancelP,
		balanceQ:  balanceQ,
		holdingsQ: holdingsQ,
		ringDepths: map[string]func() int{
			"inbound":       inboundP.Len,
			"to_engine":     toEngineP.Len,
			"cancels":       cancelP.Len,
			"fills":         fillP.Len,
			"releases":      releaseP.Len,
			"engine_events": engineEvP.Len,
			"ledger_events": ledgerEvP.Len,
		},
		log: log,
	}
}

// Start launches the worker goroutines.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.worker.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.engine.Run(ctx)
	}()

	if s.pub != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pub.Run(ctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sampleRingDepths(ctx)
	}()

	s.log.Info("service started")
}

func (s *Service) sampleRingDepths(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, depth := range s.ringDepths {
				metrics.RingDepth.WithLabelValues(name).Set(float64(depth()))
			}
		}
	}
}

// Close stops the workers and waits for them to drain.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.pub != nil {
		if err := s.pub.Close(); err != nil {
			s.log.Warn("publisher close failed", zap.Error(err))
		}
	}
	s.log.Info("service stopped")
}

// ---- submission API ----

// SubmitOrder hands an order to the admission path. A false return means
// the inbound ring is full; callers should retry or shed load.
func (s *Service) SubmitOrder(o orderbook.Order) bool {
	return s.inbound.Push(o)
}

// SubmitCancel requests cancellation of a resting order.
func (s *Service) SubmitCancel(symbol uint32, orderID uint64) bool {
	return s.cancels.Push(engine.CancelRequest{Symbol: symbol, OrderID: orderID})
}

// ---- account API ----

// RegisterUser opens an account, funding it with the default balance.
func (s *Service) RegisterUser(userID uint64) error {
	_, err := s.ledger.Register(userID)
	return err
}

// Deposit credits available funds outside the trading path.
func (s *Service) Deposit(userID uint64, amount uint64) error {
	return s.ledger.Deposit(userID, amount)
}

// DepositHoldings credits asset holdings outside the trading path.
func (s *Service) DepositHoldings(userID uint64, symbol uint32, qty uint32) error {
	return s.ledger.DepositHoldings(userID, symbol, qty)
}

// QueryBalance asks the ledger worker for a consistent balance snapshot.
func (s *Service) QueryBalance(ctx context.Context, userID uint64) (ledger.BalanceResponse, error) {
	q := ledger.NewBalanceQuery(userID)
	select {
	case s.balanceQ <- q:
	case <-ctx.Done():
		return ledger.BalanceResponse{}, ctx.Err()
	}
	select {
	case resp := <-q.Resp:
		return resp, resp.Err
	case <-ctx.Done():
		return ledger.BalanceResponse{}, ctx.Err()
	}
}

// QueryHoldings asks the ledger worker for a holdings snapshot.
func (s *Service) QueryHoldings(ctx context.Context, userID uint64, symbol uint32) (ledger.HoldingsResponse, error) {
	q := ledger.NewHoldingsQuery(userID, symbol)
	select {
	case s.holdingsQ <- q:
	case <-ctx.Done():
		return ledger.HoldingsResponse{}, ctx.Err()
	}
	select {
	case resp := <-q.Resp:
		return resp, resp.Err
	case <-ctx.Done():
		return ledger.HoldingsResponse{}, ctx.Err()
	}
}

// Ledger exposes the underlying ledger for read-side tooling.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// Engine exposes the engine for book inspection.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}
