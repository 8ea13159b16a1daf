package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts verification outcomes and sync activity.
type Metrics struct {
	ChallengesIssued prometheus.Counter
	Verified         prometheus.Counter
	Evicted          prometheus.Counter
	Abandoned        prometheus.Counter
	Rejections       *prometheus.CounterVec
	StargazersSynced *prometheus.CounterVec
}

// NewMetrics registers and returns the coordinator metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChallengesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "stargate_challenges_issued_total",
			Help: "Verification challenges issued to joining members",
		}),
		Verified: factory.NewCounter(prometheus.CounterOpts{
			Name: "stargate_verified_total",
			Help: "Members that completed verification",
		}),
		Evicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stargate_evicted_total",
			Help: "Members removed after the verification window elapsed",
		}),
		Abandoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "stargate_abandoned_total",
			Help: "Pending verifications dropped because the member left",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stargate_rejections_total",
			Help: "Confirmation attempts rejected, by reason",
		}, []string{"reason"}),
		StargazersSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stargate_stargazers_synced_total",
			Help: "New stargazers added to the ledger by sync, per repository",
		}, []string{"repo"}),
	}
}
