// Package metrics はトークンゲートの結果をPrometheusメトリクスとして公開する。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nao1215/tokengate/pkg/tokengate"
)

const namespace = "tokengate"

// GateMetrics はゲートの判定結果を集計するカウンタを保持する。
type GateMetrics struct {
	outcomes *prometheus.CounterVec
}

// NewGateMetrics は指定のRegistererにカウンタを登録する。
// テストでは prometheus.NewRegistry() を渡して分離する。
func NewGateMetrics(reg prometheus.Registerer) *GateMetrics {
	return &GateMetrics{
		outcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_outcomes_total",
				Help:      "Total number of bearer token gate outcomes by status and reason.",
			},
			[]string{"status", "reason"},
		),
	}
}

// Observe は判定結果を1件記録する。
// NoCredential と Authenticated は reason を空にして記録する。
func (m *GateMetrics) Observe(o tokengate.Outcome) {
	m.outcomes.WithLabelValues(o.Status.String(), string(o.Reason)).Inc()
}

// Outcomes はテストや診断用にカウンタを返す。
func (m *GateMetrics) Outcomes() *prometheus.CounterVec {
	return m.outcomes
}
