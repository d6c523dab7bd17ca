package metrics

import "github.com/prometheus/client_golang/prometheus"

// OperationMetrics counts operator actions and ingested ticket files.
type OperationMetrics struct {
	actions  *prometheus.CounterVec
	ingested *prometheus.CounterVec
}

func NewOperationMetrics(reg prometheus.Registerer) *OperationMetrics {
	if reg == nil {
		return &OperationMetrics{}
	}
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remediation_actions_total",
		Help:      "Operator actions by action and result.",
	}, []string{"action", "result"})
	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tickets_ingested_total",
		Help:      "Uploaded ticket files by result.",
	}, []string{"result"})
	reg.MustRegister(actions, ingested)
	return &OperationMetrics{actions: actions, ingested: ingested}
}

func (m *OperationMetrics) IncAction(action, result string) {
	if m == nil || m.actions == nil {
		return
	}
	m.actions.WithLabelValues(normalizeLabel(action), normalizeLabel(result)).Inc()
}

func (m *OperationMetrics) IncIngested(result string) {
	if m == nil || m.ingested == nil {
		return
	}
	m.ingested.WithLabelValues(normalizeLabel(result)).Inc()
}
