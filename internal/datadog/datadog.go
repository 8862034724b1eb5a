package datadog

import (
	"strconv"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/config"
	"github.com/thatsimonsguy/uf-controller/internal/events"
)

type client interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
	Close() error
}

var newClient = func(addr string, opts ...statsd.Option) (client, error) {
	return statsd.New(addr, opts...)
}

// Metrics emits process and relay metrics to a DogStatsD agent. A nil
// *Metrics is valid and emits nothing.
type Metrics struct {
	client client
}

// New returns nil when metrics are disabled or the client can't be created.
func New(cfg config.Datadog) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	c, err := newClient(cfg.AgentAddr, statsd.WithNamespace(cfg.Namespace), statsd.WithTags(cfg.Tags))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return nil
	}

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")
	return &Metrics{client: c}
}

func (m *Metrics) Gauge(name string, value float64, tags ...string) {
	if m == nil {
		return
	}
	if err := m.client.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (m *Metrics) Count(name string, value int64, tags ...string) {
	if m == nil {
		return
	}
	if err := m.client.Count(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
	}
}

func (m *Metrics) Close() {
	if m == nil {
		return
	}
	if err := m.client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close DogStatsD client")
	}
}

func (m *Metrics) Name() string { return "datadog" }

func (m *Metrics) Handle(e events.Event) {
	switch e.Kind {
	case events.ChannelChanged:
		v := 0.0
		if e.On {
			v = 1
		}
		m.Gauge("channel.state", v, "channel:"+strconv.Itoa(e.Channel))
	case events.ProcessStarted:
		tag := "process:" + string(e.Process)
		m.Count("process.started", 1, tag)
		m.Gauge("process.duration_ms", float64(e.DurationMS), tag)
	case events.ProcessEnded:
		m.Count("process.ended", 1, "process:"+string(e.Process))
	case events.CycleCompleted:
		m.Count("cycle.completed", 1)
	case events.StopRequested:
		if e.Emergency {
			m.Count("stop.emergency", 1)
		}
	}
}
