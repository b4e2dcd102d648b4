// Package publisher drains the outbound event rings and disseminates them:
// match results go through the durable outbox to the trade topic, price
// level updates go straight to the market-data topic. Delivery is at-least
// -once; consumers key on (order id, sequence) to dedupe.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"fenrir/domain/orderbook"
	"fenrir/infra/outbox"
	"fenrir/infra/spsc"
	"fenrir/metrics"
)

// MarketSender abstracts the market-data producer (kafka-go in production).
type MarketSender interface {
	Send(ctx context.Context, key, value []byte) error
}

// TradeMessage is the trade print payload. Field tags follow the compact
// market-data convention the downstream feed consumers expect.
type TradeMessage struct {
	Event        string `json:"e"` // "trade"
	Symbol       uint32 `json:"s"`
	EventTime    int64  `json:"E"`
	Price        uint64 `json:"p"`
	Quantity     uint32 `json:"q"`
	MakerOrderID uint64 `json:"a"`
	TakerOrderID uint64 `json:"b"`
	IsBuyerMaker bool   `json:"m"`
}

// DepthMessage reports the new volume of one price level.
type DepthMessage struct {
	Event     string `json:"e"` // "depth"
	Symbol    uint32 `json:"s"`
	EventTime int64  `json:"E"`
	Side      string `json:"S"`
	Price     uint64 `json:"p"`
	Quantity  uint32 `json:"q"`
}

// OrderUpdate reports the terminal outcome of a processed order.
type OrderUpdate struct {
	Event        string `json:"e"` // "order"
	OrderID      uint64 `json:"i"`
	EventTime    int64  `json:"E"`
	Status       string `json:"X"`
	RemainingQty uint32 `json:"q"`
	Reason       string `json:"r,omitempty"`
}

type Publisher struct {
	engineEvents *spsc.Consumer[orderbook.Event]
	ledgerEvents *spsc.Consumer[orderbook.Event]

	box    *outbox.Outbox
	trades sarama.SyncProducer
	market MarketSender

	tradeTopic    string
	flushInterval time.Duration

	seq uint64 // outbox key, publisher-local

	log *zap.Logger
}

type Deps struct {
	EngineEvents  *spsc.Consumer[orderbook.Event]
	LedgerEvents  *spsc.Consumer[orderbook.Event]
	Outbox        *outbox.Outbox
	Trades        sarama.SyncProducer
	Market        MarketSender
	TradeTopic    string
	FlushInterval time.Duration
	Log           *zap.Logger
}

func New(d Deps) *Publisher {
	return &Publisher{
		engineEvents:  d.EngineEvents,
		ledgerEvents:  d.LedgerEvents,
		box:           d.Outbox,
		trades:        d.Trades,
		market:        d.Market,
		tradeTopic:    d.TradeTopic,
		flushInterval: d.FlushInterval,
		log:           d.Log,
	}
}

// NewSyncProducer builds the sarama producer the broadcaster publishes
// with: all in-sync replicas must ack before an event leaves the outbox.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	return sarama.NewSyncProducer(brokers, cfg)
}

// Run drains both event rings and periodically flushes the outbox.
func (p *Publisher) Run(ctx context.Context) {
	p.log.Info("publisher started")

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	var count uint64
	lastLog := time.Now()

	for {
		didWork := p.Drain()
		if didWork {
			count++
		}

		select {
		case <-ctx.Done():
			p.Flush()
			p.log.Info("publisher stopped")
			return
		case <-ticker.C:
			p.Flush()
			if elapsed := time.Since(lastLog); elapsed >= 5*time.Second {
				rate := float64(count) / elapsed.Seconds()
				p.log.Info("publisher throughput", zap.Float64("events_per_sec", rate))
				count = 0
				lastLog = time.Now()
			}
		default:
			if !didWork {
				runtime.Gosched()
			}
		}
	}
}

// Drain consumes one round from each event ring. Exposed for tests.
func (p *Publisher) Drain() bool {
	didWork := false
	if ev, ok := p.engineEvents.Pop(); ok {
		p.handle(ev)
		didWork = true
	}
	if ev, ok := p.ledgerEvents.Pop(); ok {
		p.handle(ev)
		didWork = true
	}
	return didWork
}

func (p *Publisher) handle(ev orderbook.Event) {
	now := time.Now().UnixNano()

	switch ev.Kind {
	case orderbook.EventMatch:
		p.handleMatch(ev.Match, now)
	case orderbook.EventLevel:
		p.handleLevel(ev.Level, now)
	}
}

func (p *Publisher) handleMatch(res *orderbook.MatchResult, now int64) {
	for _, f := range res.Fills.Fills {
		msg := TradeMessage{
			Event:        "trade",
			Symbol:       f.Symbol,
			EventTime:    now,
			Price:        f.Price,
			Quantity:     f.Quantity,
			MakerOrderID: f.MakerOrderID,
			TakerOrderID: f.TakerOrderID,
			IsBuyerMaker: f.TakerSide == orderbook.Ask,
		}
		p.enqueue(msg)
	}

	upd := OrderUpdate{
		Event:        "order",
		OrderID:      res.OrderID,
		EventTime:    now,
		Status:       res.Outcome.String(),
		RemainingQty: res.RemainingQty,
	}
	if res.Err != nil {
		upd.Reason = res.Err.Error()
	}
	p.enqueue(upd)
}

func (p *Publisher) enqueue(msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("event encode failed", zap.Error(err))
		return
	}
	p.seq++
	if p.box == nil {
		return
	}
	if err := p.box.PutNew(p.seq, payload); err != nil {
		p.log.Error("outbox write failed", zap.Uint64("seq", p.seq), zap.Error(err))
	}
}

func (p *Publisher) handleLevel(lu orderbook.LevelUpdate, now int64) {
	if p.market == nil {
		return
	}
	msg := DepthMessage{
		Event:     "depth",
		Symbol:    lu.Symbol,
		EventTime: now,
		Side:      lu.Side.String(),
		Price:     lu.Price,
		Quantity:  lu.TotalVolume,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	key := []byte(fmt.Sprintf("%d", lu.Symbol))
	if err := p.market.Send(context.Background(), key, payload); err != nil {
		p.log.Warn("market data send failed", zap.Error(err))
	}
}

// Flush walks pending outbox records: mark SENT, publish, mark ACKED,
// delete. A failed send leaves the record for the next pass.
func (p *Publisher) Flush() {
	if p.box == nil || p.trades == nil {
		return
	}

	_ = p.box.ScanPending(func(rec outbox.Record) error {
		if err := p.box.MarkSent(rec.Seq); err != nil {
			return nil
		}

		msg := &sarama.ProducerMessage{
			Topic: p.tradeTopic,
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := p.trades.SendMessage(msg); err != nil {
			_ = p.box.MarkFailed(rec.Seq)
			return nil // retry on the next pass
		}

		_ = p.box.MarkAcked(rec.Seq)
		_ = p.box.Delete(rec.Seq)
		metrics.EventsPublished.Inc()
		return nil
	})
}

func (p *Publisher) Close() error {
	if p.trades != nil {
		return p.trades.Close()
	}
	return nil
}
