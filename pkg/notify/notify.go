package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/poller"
	"github.com/28Pollux28/zync/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPrefix  = "zync:access"
	defaultTTL     = 6 * time.Hour
	publishTimeout = 2 * time.Second
)

// Message is published when a team's instance becomes usable.
type Message struct {
	ChallengeID    string                    `json:"challenge_id"`
	TeamIdentifier string                    `json:"team_identifier"`
	Token          string                    `json:"token"`
	Trigger        string                    `json:"trigger"`
	ResolvedAt     time.Time                 `json:"resolved_at"`
	Access         *challenge.ResolvedAccess `json:"access"`
}

// redisClient is the subset of *redis.Client the notifier uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// Notifier publishes resolved access records on Redis so other services
// (a scoreboard, another gateway replica) can pick them up. The channel is
// <prefix>:<team identifier>; the last record per challenge is also kept under
// <prefix>:<team identifier>:<challenge id>.
type Notifier struct {
	client redisClient
	prefix string
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// Config holds Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

var _ poller.Observer = (*Notifier)(nil)

// ErrNoRecord is returned by Latest when nothing was published.
var ErrNoRecord = errors.New("no access record")

// New connects to Redis and checks the connection.
func New(cfg Config, logger *zap.SugaredLogger) (*Notifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis at %s", cfg.Addr)
	return newNotifier(client, cfg, logger), nil
}

func newNotifier(client redisClient, cfg Config, logger *zap.SugaredLogger) *Notifier {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Notifier{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (n *Notifier) Channel(team challenge.TeamIdentifier) string {
	return n.prefix + ":" + string(team)
}

func (n *Notifier) key(team challenge.TeamIdentifier, challengeID string) string {
	return n.Channel(team) + ":" + challengeID
}

// OnTransition publishes on every transition to Resolved.
func (n *Notifier) OnTransition(tr poller.Transition) {
	if tr.To != poller.StateResolved || tr.Access == nil || !tr.Team.Known() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	msg := Message{
		ChallengeID:    tr.ChallengeID,
		TeamIdentifier: string(tr.Team.Identifier),
		Token:          tr.Token,
		Trigger:        string(tr.Trigger),
		ResolvedAt:     tr.At,
		Access:         tr.Access,
	}
	if err := n.Publish(ctx, msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		n.logger.Warnf("Failed to publish access for %s on %s: %v", tr.Team, tr.ChallengeID, err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("success").Inc()
}

// Publish stores msg as the latest record and sends it on the team channel.
func (n *Notifier) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal access message: %w", err)
	}
	team := challenge.TeamIdentifier(msg.TeamIdentifier)
	if err := n.client.Set(ctx, n.key(team, msg.ChallengeID), data, n.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store access record: %w", err)
	}
	if err := n.client.Publish(ctx, n.Channel(team), data).Err(); err != nil {
		return fmt.Errorf("failed to publish access record: %w", err)
	}
	n.logger.Debugf("Published access for %s on %s", team, msg.ChallengeID)
	return nil
}

// Latest returns the last published record for a team and challenge.
func (n *Notifier) Latest(ctx context.Context, team challenge.TeamIdentifier, challengeID string) (*Message, error) {
	data, err := n.client.Get(ctx, n.key(team, challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("failed to read access record: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access record: %w", err)
	}
	return &msg, nil
}

// Close closes the Redis connection
func (n *Notifier) Close() error {
	return n.client.Close()
}
