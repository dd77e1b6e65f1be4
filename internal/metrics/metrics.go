package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shukku"

var (
	// Mutations counts list mutations by operation and outcome
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "list_mutations_total",
		Help:      "List mutations by operation and result.",
	}, []string{"op", "result"})

	// VersionConflicts counts guarded writes rejected by a newer document
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "list_version_conflicts_total",
		Help:      "Item writes rejected because the list changed underneath.",
	})

	// Notifications counts dispatch attempts by result
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification dispatches by result.",
	}, []string{"result"})

	// PushTokens counts per-token delivery outcomes reported by the provider
	PushTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_tokens_total",
		Help:      "Push tokens by delivery result.",
	}, []string{"result"})

	// Previews counts metadata fetches by result
	Previews = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "previews_total",
		Help:      "Product preview fetches by result.",
	}, []string{"result"})

	// LiveSessions tracks sessions currently subscribed to a list
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_sessions",
		Help:      "Sync sessions currently live.",
	})
)
