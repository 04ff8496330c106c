package http

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	CallsCreated       prometheus.Counter
	DescriptionsSet    *prometheus.CounterVec
	Conflicts          prometheus.Counter
	CandidatesAppended *prometheus.CounterVec
	RateLimited        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, watchers func() float64) *Metrics {
	m := &Metrics{
		CallsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yacall",
			Name:      "calls_created_total",
			Help:      "Call Records created.",
		}),
		DescriptionsSet: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yacall",
			Name:      "descriptions_set_total",
			Help:      "Offers and answers written to Call Records.",
		}, []string{"type"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yacall",
			Name:      "conflicts_total",
			Help:      "Writes rejected because the record was already set.",
		}),
		CandidatesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yacall",
			Name:      "candidates_appended_total",
			Help:      "ICE candidates appended, by side.",
		}, []string{"side"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yacall",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(
		m.CallsCreated,
		m.DescriptionsSet,
		m.Conflicts,
		m.CandidatesAppended,
		m.RateLimited,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "yacall",
			Name:      "watchers",
			Help:      "Live WebSocket subscriptions.",
		}, watchers),
	)
	return m
}
