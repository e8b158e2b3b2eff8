package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"go.uber.org/zap"
)

// The orchestrator's records are loosely typed: optional fields differ per
// category, ids and ports arrive as numbers or strings, and legacy builds use
// other field names. Everything is decoded leniently here and turned into the
// typed challenge model in one place.

type wireChallenge struct {
	ID           flexString     `json:"id"`
	Name         string         `json:"name"`
	Category     string         `json:"category"`
	Type         string         `json:"type"`
	MaxInstances flexInt        `json:"max_instances"`
	Active       *bool          `json:"active"`
	WorkloadType string         `json:"workload_type"`
	Ports        []flexInt      `json:"ports"`
	Files        []wireFile     `json:"files"`
	Instances    []wireInstance `json:"instances"`
}

type wireFile struct {
	Name     string  `json:"name"`
	Filename string  `json:"filename"`
	URL      string  `json:"url"`
	Location string  `json:"location"`
	Size     flexInt `json:"size"`
}

type wireInstance struct {
	TeamID     string     `json:"team_id"`
	Team       string     `json:"team"`
	Owner      string     `json:"owner"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	IP         string     `json:"ip"`
	FloatingIP string     `json:"floating_ip"`
	Status     string     `json:"status"`
	CreatedAt  string     `json:"created_at"`
	URL        string     `json:"url"`
	ConsoleURL string     `json:"console_url"`
	Stack      *wireStack `json:"stack"`
	ExpiresAt  string     `json:"expires_at"`
}

type wireStack struct {
	Name string     `json:"name"`
	ID   flexString `json:"id"`
}

type startRequest struct {
	TeamCode string `json:"team_code"`
}

type resetRequest struct {
	TeamCode string    `json:"team_code"`
	Mode     ResetMode `json:"mode,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a numeric string. Anything else decodes to
// 0, including NaN, infinities and values outside ±maxFlexInt.
type flexInt int

// maxFlexInt is the largest integer a float64 holds exactly.
const maxFlexInt = 1 << 53

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || math.Abs(n) > maxFlexInt {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.Unix(unix, 0).UTC()
		return &t
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (w *wireChallenge) toChallenge() (challenge.Challenge, error) {
	category, ok := challenge.ParseCategory(firstNonEmpty(w.Category, w.Type))
	if !ok {
		return challenge.Challenge{}, fmt.Errorf("challenge %s: unknown category %q", w.ID, firstNonEmpty(w.Category, w.Type))
	}
	ch := challenge.Challenge{
		ID:           string(w.ID),
		Name:         w.Name,
		Category:     category,
		MaxInstances: int(w.MaxInstances),
		Active:       w.Active == nil || *w.Active,
		WorkloadType: w.WorkloadType,
	}
	for _, p := range w.Ports {
		if p > 0 && p < 65536 {
			ch.Ports = append(ch.Ports, int(p))
		}
	}
	for _, f := range w.Files {
		ch.Files = append(ch.Files, challenge.File{
			Name: firstNonEmpty(f.Name, f.Filename),
			URL:  firstNonEmpty(f.URL, f.Location),
			Size: int64(f.Size),
		})
	}
	for _, wi := range w.Instances {
		ch.Instances = append(ch.Instances, wi.toInstance(category))
	}
	return ch, nil
}

func (w *wireInstance) toInstance(category challenge.Category) challenge.Instance {
	inst := challenge.Instance{
		Tag:    firstNonEmpty(w.TeamID, w.Team, w.Owner, w.Name),
		Status: challenge.ParseStatus(w.Status),
	}
	if t := parseTime(w.CreatedAt); t != nil {
		inst.CreatedAt = *t
	}
	switch category {
	case challenge.CategoryVirtualized:
		inst.Address = firstNonEmpty(w.FloatingIP, w.Address, w.IP)
		d := challenge.VMDetails{
			ConsoleURL: strings.TrimSpace(w.ConsoleURL),
			ExpiresAt:  parseTime(w.ExpiresAt),
		}
		if w.Stack != nil {
			d.Stack = challenge.Stack{Name: w.Stack.Name, ID: string(w.Stack.ID)}
		}
		inst.Details = d
	case challenge.CategoryStatic:
		inst.Address = firstNonEmpty(w.Address, w.IP)
	default:
		inst.Address = firstNonEmpty(w.Address, w.IP)
		inst.Details = challenge.ContainerDetails{URL: strings.TrimSpace(w.URL)}
	}
	return inst
}

func decodeChallenge(data []byte) (*challenge.Challenge, error) {
	var w wireChallenge
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	ch, err := w.toChallenge()
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// decodeChallenges drops challenges it cannot make sense of instead of
// failing the whole list.
func decodeChallenges(data []byte) ([]challenge.Challenge, error) {
	var ws []wireChallenge
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("failed to decode challenge list: %w", err)
	}
	challs := make([]challenge.Challenge, 0, len(ws))
	for i := range ws {
		ch, err := ws[i].toChallenge()
		if err != nil {
			zap.S().Warnf("Skipping challenge from orchestrator: %v", err)
			continue
		}
		challs = append(challs, ch)
	}
	return challs, nil
}
