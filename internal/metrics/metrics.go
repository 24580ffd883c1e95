package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the relay's operational counters.
type Collector struct {
	registry *prometheus.Registry

	activeRooms        prometheus.Gauge
	activeParticipants prometheus.Gauge
	envelopesRelayed   *prometheus.CounterVec
	envelopesDropped   *prometheus.CounterVec
	joins              prometheus.Counter
	leaves             prometheus.Counter
}

// NewCollector builds a Collector backed by its own registry so independent
// relay instances (and tests) never collide on metric names.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liveclass_active_rooms",
			Help: "Number of rooms with at least one participant",
		}),
		activeParticipants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liveclass_active_participants",
			Help: "Number of connected participants across all rooms",
		}),
		envelopesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveclass_envelopes_relayed_total",
			Help: "Signaling envelopes forwarded to their target",
		}, []string{"kind"}),
		envelopesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveclass_envelopes_dropped_total",
			Help: "Signaling envelopes dropped because the target was gone",
		}, []string{"kind"}),
		joins: factory.NewCounter(prometheus.CounterOpts{
			Name: "liveclass_joins_total",
			Help: "Join operations applied to the registry",
		}),
		leaves: factory.NewCounter(prometheus.CounterOpts{
			Name: "liveclass_leaves_total",
			Help: "Leave operations applied to the registry",
		}),
	}
}

func (c *Collector) ParticipantJoined()         { c.joins.Inc(); c.activeParticipants.Inc() }
func (c *Collector) ParticipantLeft()           { c.leaves.Inc(); c.activeParticipants.Dec() }
func (c *Collector) RoomCreated()               { c.activeRooms.Inc() }
func (c *Collector) RoomDestroyed()             { c.activeRooms.Dec() }
func (c *Collector) EnvelopeRelayed(kind string) { c.envelopesRelayed.WithLabelValues(kind).Inc() }
func (c *Collector) EnvelopeDropped(kind string) { c.envelopesDropped.WithLabelValues(kind).Inc() }

// Handler exposes the collector's registry for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
