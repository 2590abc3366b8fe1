// Package metrics holds the Prometheus collectors of the harvest pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Intake and enrichment outcomes, used as the "outcome" label.
const (
	OutcomeCataloged = "cataloged"
	OutcomeDuplicate = "duplicate"
	OutcomeNotFound  = "not_found"
	OutcomeNoConfig  = "no_config"
	OutcomeMalformed = "malformed"
	OutcomeForbidden = "forbidden"
	OutcomeError     = "error"
	OutcomeEnriched  = "enriched"
	OutcomeFallback  = "fallback"
	OutcomeNoTags    = "no_tags"
)

// Metrics groups the pipeline collectors.
type Metrics struct {
	discovered  prometheus.Counter
	intake      *prometheus.CounterVec
	enrichment  *prometheus.CounterVec
	tagsCreated prometheus.Counter
	runs        *prometheus.CounterVec
	stage       *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_discovered_total", Help: "Repositories newly queued by discovery"}),
		intake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_intake_items_total", Help: "Pending discovery items handled, by outcome"}, []string{"outcome"}),
		enrichment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_enrichment_items_total", Help: "Pending enrichment items handled, by outcome"}, []string{"outcome"}),
		tagsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_tags_created_total", Help: "Distinct tags first seen"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_total", Help: "Pipeline stage runs, by stage and trigger"}, []string{"stage", "trigger"}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_stage_seconds",
			Help:    "Duration of pipeline stage runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.discovered, m.intake, m.enrichment, m.tagsCreated, m.runs, m.stage)
	}
	return m
}

func (m *Metrics) Discovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.discovered.Add(float64(n))
}

func (m *Metrics) Intake(outcome string) {
	if m == nil {
		return
	}
	m.intake.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Enrichment(outcome string) {
	if m == nil {
		return
	}
	m.enrichment.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TagCreated() {
	if m == nil {
		return
	}
	m.tagsCreated.Inc()
}

// Run counts a stage run and returns a func that observes its duration.
func (m *Metrics) Run(stage, trigger string) func() {
	if m == nil {
		return func() {}
	}
	m.runs.WithLabelValues(stage, trigger).Inc()
	start := time.Now()
	return func() {
		m.stage.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
