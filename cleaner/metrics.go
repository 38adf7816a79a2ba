package cleaner

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles Prometheus collectors for the clean stage.
type Metrics struct {
	RowsRead      prometheus.Counter
	RowsDropped   *prometheus.CounterVec
	RowsTruncated prometheus.Counter
	RowsWritten   prometheus.Counter
}

// NewMetrics constructs the collectors and registers them on reg. A nil reg
// gets a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		RowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cleaner_rows_read_total",
			Help: "Total raw rows loaded by the cleaner.",
		}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleaner_rows_dropped_total",
			Help: "Total raw rows rejected during validation, by reason.",
		}, []string{"reason"}),
		RowsTruncated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cleaner_rows_truncated_total",
			Help: "Total valid rows cut by the row ceiling.",
		}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cleaner_rows_written_total",
			Help: "Total rows that passed validation and the row ceiling.",
		}),
	}
	reg.MustRegister(m.RowsRead, m.RowsDropped, m.RowsTruncated, m.RowsWritten)
	return m
}

func (m *Metrics) observe(report Report, written int) {
	if m == nil {
		return
	}
	m.RowsRead.Add(float64(report.Read))
	for reason, n := range report.Dropped {
		m.RowsDropped.WithLabelValues(reason).Add(float64(n))
	}
	m.RowsTruncated.Add(float64(report.Truncated))
	m.RowsWritten.Add(float64(written))
}
