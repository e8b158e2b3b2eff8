// Package loadtest drives many teams through the gateway at once: every team
// starts the same challenge and polls it until its instance is ready. The run
// fails loudly if two teams are ever shown the same address.
package loadtest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"
)

// Config controls the load test behavior.
type Config struct {
	BaseURL        string
	JWTSecret      string
	ChallengeID    string
	Role           string
	Teams          int
	Concurrency    int
	TeamPrefix     string
	TeamStart      int
	RequestTimeout time.Duration
	PollInterval   time.Duration
	Ceiling        time.Duration
	InsecureTLS    bool
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return errors.New("base URL is required")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("jwt secret is required")
	}
	if strings.TrimSpace(cfg.ChallengeID) == "" {
		return errors.New("challenge id is required")
	}
	if cfg.Teams <= 0 {
		return errors.New("teams must be > 0")
	}
	if cfg.Concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if cfg.TeamStart < 0 {
		return errors.New("team start must be >= 0")
	}
	if strings.TrimSpace(cfg.TeamPrefix) == "" {
		return errors.New("team prefix is required")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request timeout must be > 0")
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll interval must be > 0")
	}
	if cfg.Ceiling <= 0 {
		return errors.New("ceiling must be > 0")
	}
	return nil
}

// Violation is an address that was shown to more than one team.
type Violation struct {
	Address string
	Teams   []string
}

// Report is the outcome of a run.
type Report struct {
	Start      *Stats
	Ready      *Stats
	ReadyTeams int
	NotReady   []string
	Violations []Violation
}

type teamResult struct {
	team    string
	address string
	ready   bool
}

// challengeView is the subset of the gateway's challenge response we read.
type challengeView struct {
	Status string `json:"status"`
	Access *struct {
		Address    string `json:"address"`
		AccessURL  string `json:"access_url"`
		ConsoleURL string `json:"console_url"`
	} `json:"access"`
}

func Run(ctx context.Context, cfg Config, out io.Writer) (*Report, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	client := &http.Client{Timeout: cfg.RequestTimeout, Transport: newTransport(cfg)}

	teams := make([]string, cfg.Teams)
	tokens := make([]string, cfg.Teams)
	for i := 0; i < cfg.Teams; i++ {
		teams[i] = fmt.Sprintf("%s%04d", cfg.TeamPrefix, cfg.TeamStart+i)
		token, err := signToken(cfg, teams[i])
		if err != nil {
			return nil, fmt.Errorf("sign token for %s: %w", teams[i], err)
		}
		tokens[i] = token
	}

	report := &Report{Start: NewStats(), Ready: NewStats()}
	results := make([]teamResult, cfg.Teams)
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i := range teams {
		i := i
		g.Go(func() error {
			results[i] = runTeam(gctx, client, baseURL, cfg, teams[i], tokens[i], report)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(started)

	for _, r := range results {
		if r.ready {
			report.ReadyTeams++
		} else {
			report.NotReady = append(report.NotReady, r.team)
		}
	}
	report.Violations = findViolations(results)

	report.Start.Report(out, "start", elapsed)
	report.Ready.Report(out, "time to ready", elapsed)
	fmt.Fprintf(out, "\nReady: %d/%d\n", report.ReadyTeams, cfg.Teams)
	if len(report.NotReady) > 0 {
		fmt.Fprintf(out, "Not ready: %d\n", len(report.NotReady))
	}
	for _, v := range report.Violations {
		fmt.Fprintf(out, "ISOLATION VIOLATION: %s shown to %s\n", v.Address, strings.Join(v.Teams, ", "))
	}
	return report, nil
}

// runTeam starts the challenge for one team and polls it like a browser would.
func runTeam(ctx context.Context, client *http.Client, baseURL string, cfg Config, team, token string, report *Report) teamResult {
	res := teamResult{team: team}
	path := baseURL + "/challenges/" + url.PathEscape(cfg.ChallengeID)

	begin := time.Now()
	status, _, err := do(ctx, client, http.MethodPost, path+"/start", token)
	lat := time.Since(begin)
	switch {
	case err != nil:
		report.Start.Record(0, lat, err.Error())
		return res
	case status != http.StatusAccepted:
		report.Start.Record(status, lat, fmt.Sprintf("status %d", status))
		return res
	}
	report.Start.Record(status, lat, "")

	deadline := begin.Add(cfg.Ceiling)
	timer := time.NewTimer(cfg.PollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return res
		case <-timer.C:
		}
		status, body, err := do(ctx, client, http.MethodGet, path, token)
		if err == nil && status == http.StatusOK {
			var v challengeView
			if json.Unmarshal(body, &v) == nil && v.Status == "ready" && v.Access != nil {
				res.ready = true
				res.address = firstNonEmpty(v.Access.Address, v.Access.AccessURL, v.Access.ConsoleURL)
				report.Ready.Record(status, time.Since(begin), "")
				return res
			}
		}
		if time.Now().After(deadline) {
			errText := "not ready before ceiling"
			if err != nil {
				errText = err.Error()
			}
			report.Ready.Record(status, time.Since(begin), errText)
			return res
		}
		timer.Reset(cfg.PollInterval)
	}
}

func findViolations(results []teamResult) []Violation {
	byAddr := make(map[string][]string)
	for _, r := range results {
		if r.address != "" {
			byAddr[r.address] = append(byAddr[r.address], r.team)
		}
	}
	var out []Violation
	for addr, teams := range byAddr {
		if len(teams) > 1 {
			sort.Strings(teams)
			out = append(out, Violation{Address: addr, Teams: teams})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func do(ctx context.Context, client *http.Client, method, target, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, data, err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func newTransport(cfg Config) *http.Transport {
	tr := &http.Transport{
		MaxIdleConns:        cfg.Concurrency * 2,
		MaxIdleConnsPerHost: cfg.Concurrency * 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.InsecureTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return tr
}

func signToken(cfg Config, teamCode string) (string, error) {
	claims := jwt.MapClaims{
		"team_code": teamCode,
		"role":      cfg.Role,
		"iat":       time.Now().Unix(),
		"exp":       time.Now().Add(1 * time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(cfg.JWTSecret))
}

// Stats aggregates the outcome of one kind of measurement across teams.
type Stats struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int64
	statuses  map[int]int
	samples   []string
}

func NewStats() *Stats {
	return &Stats{statuses: make(map[int]int)}
}

// Record adds one measurement. A non-empty errText marks it failed; failed
// measurements do not count towards the latency percentiles.
func (s *Stats) Record(status int, latency time.Duration, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status > 0 {
		s.statuses[status]++
	}
	if errText != "" {
		s.failures++
		if len(s.samples) < 5 {
			s.samples = append(s.samples, errText)
		}
		return
	}
	s.latencies = append(s.latencies, latency)
}

func (s *Stats) Success() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.latencies))
}

func (s *Stats) Errors() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *Stats) Report(out io.Writer, name string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]time.Duration(nil), s.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	fmt.Fprintf(out, "\n%s (%s)\n", name, elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  ok %d, failed %d\n", len(sorted), s.failures)
	if len(sorted) > 0 {
		fmt.Fprintf(out, "  p50 %s  p95 %s  max %s\n",
			percentile(sorted, 50), percentile(sorted, 95), sorted[len(sorted)-1])
	}
	if len(s.statuses) > 0 {
		codes := make([]int, 0, len(s.statuses))
		for code := range s.statuses {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		parts := make([]string, 0, len(codes))
		for _, code := range codes {
			parts = append(parts, fmt.Sprintf("%d=%d", code, s.statuses[code]))
		}
		fmt.Fprintf(out, "  statuses %s\n", strings.Join(parts, " "))
	}
	for _, sample := range s.samples {
		fmt.Fprintf(out, "  ! %s\n", sample)
	}
}

// percentile expects sorted to be non-empty and ascending.
func percentile(sorted []time.Duration, p int) time.Duration {
	i := (len(sorted)*p + 99) / 100
	if i < 1 {
		i = 1
	}
	return sorted[i-1]
}
