// Package metrics exports engine activity as Prometheus metrics. A single
// Metrics value implements the flash, ustream, registry and dm observers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joshuapare/flashdm/pkg/types"
)

const namespace = "flashdm"

// Metrics holds the collectors.
type Metrics struct {
	// Flash
	ProgrammedBytes prometheus.Counter
	ErasedPages     prometheus.Counter
	FlashErrors     *prometheus.CounterVec

	// Stream
	StreamBytes    prometheus.Counter
	StreamChunks   prometheus.Counter
	StreamTimeouts prometheus.Counter

	// Registry
	RegistryOps *prometheus.CounterVec

	// Package manager
	Installs   *prometheus.CounterVec
	Uninstalls *prometheus.CounterVec
	Packages   prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to expose them globally.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProgrammedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flash_programmed_bytes_total",
			Help:      "Bytes programmed to flash, in double-word units",
		}),
		ErasedPages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flash_erased_pages_total",
			Help:      "Flash pages erased",
		}),
		FlashErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flash_errors_total",
			Help:      "Failed flash primitives",
		}, []string{"op"}),

		StreamBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Bytes received from blob transports",
		}),
		StreamChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Chunks received from blob transports",
		}),
		StreamTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_timeouts_total",
			Help:      "Chunk waits that expired",
		}),

		RegistryOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_operations_total",
			Help:      "Registry mutations by outcome",
		}, []string{"op", "result"}),

		Installs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dm_installs_total",
			Help:      "Package installs by source and outcome",
		}, []string{"source", "result"}),
		Uninstalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dm_uninstalls_total",
			Help:      "Package uninstalls by outcome",
		}, []string{"result"}),
		Packages: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dm_packages",
			Help:      "Installed packages",
		}),
	}
}

// result labels an outcome with "ok" or the error kind.
func result(err error) string {
	if err == nil {
		return "ok"
	}
	kind, _ := types.KindOf(err)
	return kind.String()
}

func (m *Metrics) OnProgram(bytes int) { m.ProgrammedBytes.Add(float64(bytes)) }
func (m *Metrics) OnErase(pages int)   { m.ErasedPages.Add(float64(pages)) }
func (m *Metrics) OnError(op string)   { m.FlashErrors.WithLabelValues(op).Inc() }

func (m *Metrics) OnChunk(bytes int) {
	m.StreamChunks.Inc()
	m.StreamBytes.Add(float64(bytes))
}

func (m *Metrics) OnTimeout() { m.StreamTimeouts.Inc() }

func (m *Metrics) OnRegistry(op string, err error) {
	m.RegistryOps.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) OnInstall(source string, err error) {
	m.Installs.WithLabelValues(source, result(err)).Inc()
}

func (m *Metrics) OnUninstall(err error) { m.Uninstalls.WithLabelValues(result(err)).Inc() }
func (m *Metrics) OnPackages(n int)      { m.Packages.Set(float64(n)) }
