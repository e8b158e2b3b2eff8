package pkg

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Define Metrics
var (
	mutationRequestsPerTeam = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zync_mutation_requests_total",
			Help: "Start and reset requests per team",
		},
		[]string{"team_code", "action"},
	)
	unauthorizedRequestsPerTeam = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zync_unauthorized_requests_total",
			Help: "Total number of rejected requests per team",
		},
		[]string{"team_code"},
	)
	refreshRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zync_refresh_requests_total",
		Help: "The total number of manual refreshes",
	})
)
