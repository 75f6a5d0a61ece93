// Package bpoolmetrics exports pkg/bpool.Pool statistics, in Prometheus
// text format and as periodic compressed snapshots.
package bpoolmetrics

import (
	"fmt"
	"io"

	"github.com/mnohosten/bufferpool/pkg/bpool"
)

// PrometheusExporter renders a Pool's Stats snapshot in the Prometheus
// text exposition format.
type PrometheusExporter struct {
	pool      *bpool.Pool
	namespace string
}

// NewPrometheusExporter creates an exporter for pool under namespace
// (e.g. "bpool").
func NewPrometheusExporter(pool *bpool.Pool, namespace string) *PrometheusExporter {
	if namespace == "" {
		namespace = "bpool"
	}
	return &PrometheusExporter{pool: pool, namespace: namespace}
}

// WriteMetrics writes all pool metrics in Prometheus text format.
func (pe *PrometheusExporter) WriteMetrics(w io.Writer) error {
	s := pe.pool.Stats()

	if err := pe.writeCounter(w, "hits_total", "Total pin calls served by a resident block", s.Hits); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "misses_total", "Total pin calls that required a block load", s.Misses); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "evictions_total", "Total blocks evicted from the unlocked list", s.Evictions); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "resident_blocks", "Blocks currently resident in the pool", float64(s.ResidentBlocks)); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "live_blocks", "Blocks with committed virtual memory", float64(s.LiveBlocks)); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "min_pool_blocks", "Configured minimum resident block count", float64(s.MinPoolBlocks)); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "max_pool_blocks", "Configured maximum resident block count", float64(s.MaxPoolBlocks)); err != nil {
		return err
	}

	total := s.Hits + s.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(s.Hits) / float64(total)
	}
	return pe.writeGauge(w, "hit_rate", "Pin hit rate (0-1)", hitRate)
}

func (pe *PrometheusExporter) writeCounter(w io.Writer, name, help string, value uint64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", metricName, help, metricName, metricName, value)
	return err
}

func (pe *PrometheusExporter) writeGauge(w io.Writer, name, help string, value float64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", metricName, help, metricName, metricName, value)
	return err
}
