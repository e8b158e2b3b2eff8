package metrics

import (
	"github.com/28Pollux28/zync/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// ---------------------------------------------------------------------------
// SessionCollector
// ---------------------------------------------------------------------------

// SessionCollector implements prometheus.Collector and queries the database
// on each scrape to report recorded poll sessions by state, trigger, and
// challenge. Counts survive restarts until the janitor purges the records.
type SessionCollector struct {
	db   *gorm.DB
	desc *prometheus.Desc
}

// NewSessionCollector creates a Collector backed by db.
// Call prometheus.MustRegister(collector) after creation.
func NewSessionCollector(db *gorm.DB) *SessionCollector {
	return &SessionCollector{
		db: db,
		desc: prometheus.NewDesc(
			"zync_poll_session_records",
			"Recorded poll sessions grouped by state, trigger, and challenge.",
			[]string{"state", "trigger", "challenge_id"},
			nil,
		),
	}
}

// Describe sends the descriptor to the channel.
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect queries the database and sends session count metrics.
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	type row struct {
		State       string
		Trigger     string
		ChallengeID string
		Count       int64
	}

	var rows []row
	err := c.db.Model(&models.PollSession{}).
		Select("state, `trigger`, challenge_id, COUNT(*) as count").
		Group("state, `trigger`, challenge_id").
		Scan(&rows).Error
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}

	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(
			c.desc,
			prometheus.GaugeValue,
			float64(r.Count),
			r.State, r.Trigger, r.ChallengeID,
		)
	}
}

// ---------------------------------------------------------------------------
// RegistryCollector
// ---------------------------------------------------------------------------

// TeamCounter is the minimal interface needed to observe the poller registry.
// It is satisfied by the gateway's registry without importing that package.
type TeamCounter interface {
	Teams() int
}

// RegistryCollector reports how many teams currently hold a poller.
type RegistryCollector struct {
	registry TeamCounter
	desc     *prometheus.Desc
}

func NewRegistryCollector(registry TeamCounter) *RegistryCollector {
	return &RegistryCollector{
		registry: registry,
		desc: prometheus.NewDesc(
			"zync_team_pollers",
			"Number of teams with a live poller",
			nil, nil,
		),
	}
}

// Describe sends the descriptor to the channel.
func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect sends the current team count.
func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(c.registry.Teams()))
}
