// internal/metrics/collector.go
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const namespace = "launchpad"

// MetricType представляет тип метрики
type MetricType string

const (
	TradeCounterType    MetricType = "trade_counter"
	TradeDurationType   MetricType = "trade_duration"
	TradeVolumeType     MetricType = "trade_volume"
	LaunchCounterType   MetricType = "launch_counter"
	LaunchDurationType  MetricType = "launch_duration"
	MarketCapType       MetricType = "market_cap"
	PoolsCreatedType    MetricType = "pools_created"
	RejectedTradesType  MetricType = "rejected_trades"
	FeesAccruedType     MetricType = "fees_accrued"
	EventsPublishedType MetricType = "events_published"
	EventsDroppedType   MetricType = "events_dropped"
)

// Collector управляет набором метрик движка.
type Collector struct {
	metrics sync.Map

	tradeCounter   *prometheus.CounterVec
	tradeDuration  *prometheus.HistogramVec
	tradeVolume    *prometheus.CounterVec
	launchCounter  *prometheus.CounterVec
	launchDuration prometheus.Histogram
	marketCap      *prometheus.GaugeVec
	poolsCreated   prometheus.Counter
	rejected       *prometheus.CounterVec
	feesAccrued    *prometheus.CounterVec
	events         *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
}

// NewCollector creates the collector and registers it with reg. A nil reg
// leaves the metrics unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tradeCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Total number of curve trades executed",
			},
			[]string{"side"},
		),
		tradeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trade_duration_seconds",
				Help:      "Trade execution duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
			},
			[]string{"side"},
		),
		tradeVolume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trade_volume_native",
				Help:      "Native volume traded on the curve, in whole units",
			},
			[]string{"side"},
		),
		launchCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "launches_total",
				Help:      "Launch attempts by outcome",
			},
			[]string{"status"},
		),
		launchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "launch_duration_seconds",
				Help:      "Duration of liquidity deployment",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		marketCap: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "market_cap_usd",
				Help:      "Latest market cap of a pool in USD",
			},
			[]string{"token"},
		),
		poolsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pools_created_total",
				Help:      "Total number of pools created",
			},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_rejected_total",
				Help:      "Rejected trades by side and error kind",
			},
			[]string{"side", "kind"},
		),
		feesAccrued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fees_accrued_native",
				Help:      "Fees accrued in whole native units",
			},
			[]string{"recipient"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Engine events published by type",
			},
			[]string{"type"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Engine events the bus did not accept, by type",
			},
			[]string{"type"},
		),
	}

	metricsMap := map[MetricType]prometheus.Collector{
		TradeCounterType:    c.tradeCounter,
		TradeDurationType:   c.tradeDuration,
		TradeVolumeType:     c.tradeVolume,
		LaunchCounterType:   c.launchCounter,
		LaunchDurationType:  c.launchDuration,
		MarketCapType:       c.marketCap,
		PoolsCreatedType:    c.poolsCreated,
		RejectedTradesType:  c.rejected,
		FeesAccruedType:     c.feesAccrued,
		EventsPublishedType: c.events,
		EventsDroppedType:   c.eventsDropped,
	}
	for metricType, metric := range metricsMap {
		c.metrics.Store(metricType, metric)
		if reg != nil {
			reg.MustRegister(metric)
		}
	}
	return c
}

// Reset сбрасывает все метрики (полезно для тестирования)
func (c *Collector) Reset() {
	c.metrics.Range(func(_, value interface{}) bool {
		switch m := value.(type) {
		case *prometheus.CounterVec:
			m.Reset()
		case *prometheus.GaugeVec:
			m.Reset()
		case *prometheus.HistogramVec:
			m.Reset()
		}
		return true
	})
}

// RecordTrade records a committed trade.
func (c *Collector) RecordTrade(side, token string, nativeVolume, marketCapUSD decimal.Decimal, duration time.Duration) {
	if c == nil {
		return
	}
	c.tradeCounter.WithLabelValues(side).Inc()
	c.tradeDuration.WithLabelValues(side).Observe(duration.Seconds())
	c.tradeVolume.WithLabelValues(side).Add(nativeVolume.InexactFloat64())
	c.marketCap.WithLabelValues(token).Set(marketCapUSD.InexactFloat64())
}

// RecordRejected counts a trade that failed validation or execution.
func (c *Collector) RecordRejected(side, kind string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(side, kind).Inc()
}

// RecordLaunch records a launch attempt.
func (c *Collector) RecordLaunch(success bool, duration time.Duration) {
	status := "launched"
	if !success {
		status = "aborted"
	}
	c.RecordLaunchStatus(status, duration)
}

// RecordLaunchStatus records a launch attempt that ended in status
// (launched, aborted or halted).
func (c *Collector) RecordLaunchStatus(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.launchCounter.WithLabelValues(status).Inc()
	c.launchDuration.Observe(duration.Seconds())
}

// RecordPoolCreated counts a new pool.
func (c *Collector) RecordPoolCreated() {
	if c == nil {
		return
	}
	c.poolsCreated.Inc()
}

// RecordFees adds accrued fees, in whole native units.
func (c *Collector) RecordFees(owner, protocol decimal.Decimal) {
	if c == nil {
		return
	}
	c.feesAccrued.WithLabelValues("owner").Add(owner.InexactFloat64())
	c.feesAccrued.WithLabelValues("protocol").Add(protocol.InexactFloat64())
}

// RecordEvent counts a published event.
func (c *Collector) RecordEvent(eventType string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts an event the bus refused.
func (c *Collector) RecordEventDropped(eventType string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(eventType).Inc()
}
