package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenrir_orders_admitted_total",
		Help: "Orders that passed the funds lock and reached the engine.",
	})

	OrdersRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenrir_orders_rejected_total",
		Help: "Orders rejected before or during matching.",
	})

	TradesMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenrir_trades_matched_total",
		Help: "Fills emitted by the matching engine.",
	})

	FundsReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenrir_funds_released_total",
		Help: "Reservation releases (cancels, market remainders, rejections).",
	})

	SettlementFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenrir_settlement_faults_total",
		Help: "Settlement or release operations that violated an invariant.",
	})

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenrir_events_dropped_total",
		Help: "Outbound events dropped because the event ring was full.",
	})

	EventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fenrir_events_published_total",
		Help: "Events acknowledged by the downstream broker.",
	})

	RingDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fenrir_ring_depth",
		Help: "Queued elements per inter-worker ring.",
	}, []string{"ring"})
)

func Init() {
	prometheus.MustRegister(OrdersAdmitted)
	prometheus.MustRegister(OrdersRejected)
	prometheus.MustRegister(TradesMatched)
	prometheus.MustRegister(FundsReleased)
	prometheus.MustRegister(SettlementFaults)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(RingDepth)
}
