package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"granary/core/events"
)

type YieldMetrics struct {
	totalStaked  prometheus.Gauge
	emissionRate prometheus.Gauge
	harvestRate  prometheus.Gauge
	paused       prometheus.Gauge
	stakes       prometheus.Counter
	withdrawals  prometheus.Counter
	settlements  *prometheus.CounterVec
	deliveries   prometheus.Counter
	poolSyncs    prometheus.Counter
}

var (
	yieldOnce     sync.Once
	yieldRegistry *YieldMetrics
)

// Yield returns the metrics registry tracking the distribution engine.
func Yield() *YieldMetrics {
	yieldOnce.Do(func() {
		yieldRegistry = &YieldMetrics{
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "yield_total_staked",
				Help: "Principal currently locked in the pool, in base units.",
			}),
			emissionRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "yield_emission_rate",
				Help: "Per-second minted emission rate derived from the target yield.",
			}),
			harvestRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "yield_harvest_rate",
				Help: "Per-second harvest rate reported by the active rate model.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "yield_paused",
				Help: "Whether the module is paused (1) or live (0).",
			}),
			stakes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "yield_stakes_total",
				Help: "Count of stake operations credited to the pool.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "yield_withdrawals_total",
				Help: "Count of principal withdrawals, including paused exits.",
			}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "yield_settlements_total",
				Help: "Count of reward settlements by stream.",
			}, []string{"stream"}),
			deliveries: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "yield_deliveries_total",
				Help: "Count of reward deliveries absorbed by the rate model.",
			}),
			poolSyncs: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "yield_pool_syncs_total",
				Help: "Count of committed pool accumulator syncs.",
			}),
		}
		prometheus.MustRegister(
			yieldRegistry.totalStaked,
			yieldRegistry.emissionRate,
			yieldRegistry.harvestRate,
			yieldRegistry.paused,
			yieldRegistry.stakes,
			yieldRegistry.withdrawals,
			yieldRegistry.settlements,
			yieldRegistry.deliveries,
			yieldRegistry.poolSyncs,
		)
	})
	return yieldRegistry
}

// Emit feeds engine events into the gauges and counters, letting the registry
// ride the same fan-out as the journal and history sinks.
func (m *YieldMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	switch payload := evt.(type) {
	case events.YieldStaked:
		m.stakes.Inc()
		m.setGauge(m.totalStaked, payload.TotalStaked)
	case events.YieldWithdrawn:
		m.withdrawals.Inc()
		m.setGauge(m.totalStaked, payload.TotalStaked)
	case events.YieldPauseWithdrawn:
		m.withdrawals.Inc()
		m.setGauge(m.totalStaked, payload.TotalStaked)
	case events.YieldRewardsSettled:
		stream := payload.Stream
		if stream == "" {
			stream = "unknown"
		}
		m.settlements.WithLabelValues(stream).Inc()
	case events.YieldRewardDelivered:
		m.deliveries.Inc()
		m.setGauge(m.harvestRate, payload.HarvestRate)
	case events.YieldPoolSynced:
		m.poolSyncs.Inc()
		m.setGauge(m.totalStaked, payload.TotalStaked)
	case events.YieldPaused:
		m.paused.Set(1)
	case events.YieldUnpaused:
		m.paused.Set(0)
	case events.YieldEmergencySwept:
		m.paused.Set(1)
	}
}

// SetEmissionRate records the per-second emission rate after a parameter
// commit or pool sync.
func (m *YieldMetrics) SetEmissionRate(rate *big.Int) {
	if m == nil {
		return
	}
	m.setGauge(m.emissionRate, rate)
}

func (m *YieldMetrics) setGauge(gauge prometheus.Gauge, value *big.Int) {
	if gauge == nil || value == nil {
		return
	}
	approx, _ := new(big.Float).SetInt(value).Float64()
	gauge.Set(approx)
}
