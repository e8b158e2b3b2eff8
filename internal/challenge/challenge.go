package challenge

import (
	"strings"
	"time"
)

// TeamCode is the human readable code a team logs in with.
type TeamCode string

// TeamIdentifier is the orchestrator's canonical tag for a team, team-<hash8>.
type TeamIdentifier string

type Category string

const (
	CategoryContainerized Category = "containerized"
	CategoryStatic        Category = "static"
	CategoryVirtualized   Category = "virtualized"
)

// ParseCategory accepts the canonical names plus the aliases older
// orchestrator builds still emit.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "containerized", "container", "docker", "k8s", "kubernetes":
		return CategoryContainerized, true
	case "static", "file", "files":
		return CategoryStatic, true
	case "virtualized", "vm", "openstack", "virtual_machine":
		return CategoryVirtualized, true
	}
	return "", false
}

// Instanced reports whether challenges of this category get per team instances.
func (c Category) Instanced() bool {
	return c == CategoryContainerized || c == CategoryVirtualized
}

type Status string

const (
	StatusCreated  Status = "created"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
	StatusDeleting Status = "deleting"
	StatusUnknown  Status = "unknown"
)

func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "created", "creating", "pending", "starting", "build":
		return StatusCreated
	case "running", "active", "ready", "up":
		return StatusRunning
	case "error", "failed", "crashloopbackoff":
		return StatusError
	case "deleting", "terminating", "stopping", "deleted":
		return StatusDeleting
	}
	return StatusUnknown
}

// Details is the category specific part of an instance. The concrete type
// always matches the owning challenge's category.
type Details interface {
	Category() Category
}

// ContainerDetails carries the optional explicit URL of a containerized instance.
type ContainerDetails struct {
	URL string
}

func (ContainerDetails) Category() Category { return CategoryContainerized }

// Stack is the orchestration stack a virtual machine belongs to.
type Stack struct {
	Name string
	ID   string
}

type VMDetails struct {
	ConsoleURL string
	Stack      Stack
	ExpiresAt  *time.Time
}

func (VMDetails) Category() Category { return CategoryVirtualized }

// Instance is one provisioned resource owned by one team.
type Instance struct {
	// Tag is normally a TeamIdentifier, sometimes a raw TeamCode, and in
	// legacy data anything at all.
	Tag       string
	Address   string
	Status    Status
	CreatedAt time.Time
	Details   Details
}

// ConsoleURL returns the console of a virtualized instance, empty otherwise.
func (i *Instance) ConsoleURL() string {
	if vm, ok := i.Details.(VMDetails); ok {
		return vm.ConsoleURL
	}
	return ""
}

type File struct {
	Name string
	URL  string
	Size int64
}

type Challenge struct {
	ID           string
	Name         string
	Category     Category
	MaxInstances int
	Active       bool
	WorkloadType string
	Ports        []int
	Files        []File
	// Instances may contain every team's instances, not only the caller's.
	Instances []Instance
}

// ResolvedAccess is the presentation ready access record for one team.
type ResolvedAccess struct {
	Category    Category   `json:"category"`
	Status      Status     `json:"status,omitempty"`
	TeamCode    TeamCode   `json:"team_code"`
	Address     string     `json:"address,omitempty"`
	AccessURL   string     `json:"access_url,omitempty"`
	ConsoleURL  string     `json:"console_url,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	Hint        string     `json:"hint,omitempty"`
	Warning     string     `json:"warning,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

var placeholderAddresses = map[string]struct{}{
	"pending": {},
	"0.0.0.0": {},
	"n/a":     {},
	"na":      {},
	"-":       {},
	"none":    {},
	"null":    {},
	"tbd":     {},
}

// UsableAddress reports whether addr is a real address rather than empty or
// a "not allocated yet" sentinel.
func UsableAddress(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	if a == "" {
		return false
	}
	_, placeholder := placeholderAddresses[a]
	return !placeholder
}
