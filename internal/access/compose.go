package access

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/pkg/utils"
)

const defaultHTTPPort = 80

// Composer turns a challenge and its resolved instance into the access record
// shown to the team. Now is only used to phrase expiry warnings.
type Composer struct {
	Now func() time.Time
}

var defaultComposer = Composer{Now: time.Now}

// Compose uses the wall clock for expiry warnings.
func Compose(ch *challenge.Challenge, resolved *challenge.Instance, team challenge.TeamCode) *challenge.ResolvedAccess {
	return defaultComposer.Compose(ch, resolved, team)
}

// Compose returns nil when there is nothing the team can use yet: no resolved
// instance for an instanced challenge, no usable address, or no downloadable
// file for a static one.
func (c Composer) Compose(ch *challenge.Challenge, resolved *challenge.Instance, team challenge.TeamCode) *challenge.ResolvedAccess {
	if ch == nil {
		return nil
	}
	switch ch.Category {
	case challenge.CategoryContainerized:
		return composeContainer(ch, resolved, team)
	case challenge.CategoryVirtualized:
		return c.composeVM(ch, resolved, team)
	case challenge.CategoryStatic:
		return composeStatic(ch, team)
	}
	return nil
}

func composeContainer(ch *challenge.Challenge, inst *challenge.Instance, team challenge.TeamCode) *challenge.ResolvedAccess {
	if inst == nil {
		return nil
	}
	d, _ := inst.Details.(challenge.ContainerDetails)
	hasAddress := challenge.UsableAddress(inst.Address)
	if !hasAddress && d.URL == "" {
		return nil
	}

	accessURL := d.URL
	if accessURL == "" {
		port := defaultHTTPPort
		if len(ch.Ports) > 0 && ch.Ports[0] > 0 {
			port = ch.Ports[0]
		}
		accessURL = "http://" + net.JoinHostPort(strings.TrimSpace(inst.Address), strconv.Itoa(port))
	}

	ra := &challenge.ResolvedAccess{
		Category:  challenge.CategoryContainerized,
		Status:    inst.Status,
		TeamCode:  team,
		AccessURL: accessURL,
	}
	if hasAddress {
		ra.Address = strings.TrimSpace(inst.Address)
	}
	if ch.WorkloadType != "" {
		ra.Hint = fmt.Sprintf("Running as a %s workload", ch.WorkloadType)
	}
	return ra
}

func (c Composer) composeVM(ch *challenge.Challenge, inst *challenge.Instance, team challenge.TeamCode) *challenge.ResolvedAccess {
	if inst == nil {
		return nil
	}
	d, _ := inst.Details.(challenge.VMDetails)
	hasAddress := challenge.UsableAddress(inst.Address)
	if !hasAddress && d.ConsoleURL == "" {
		return nil
	}

	ra := &challenge.ResolvedAccess{
		Category:   challenge.CategoryVirtualized,
		Status:     inst.Status,
		TeamCode:   team,
		ConsoleURL: d.ConsoleURL,
	}
	if hasAddress {
		ra.Address = strings.TrimSpace(inst.Address)
	}
	if d.ExpiresAt != nil {
		ra.ExpiresAt = d.ExpiresAt
		ra.Warning = c.expiryWarning(*d.ExpiresAt)
	}
	return ra
}

func (c Composer) expiryWarning(at time.Time) string {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	left := at.Sub(now())
	stamp := at.UTC().Format(time.RFC3339)
	if left <= 0 {
		return fmt.Sprintf("This machine expired at %s and will be deleted automatically", stamp)
	}
	return fmt.Sprintf("This machine is deleted automatically at %s (in %s)", stamp, utils.Until(left, time.Minute))
}

func composeStatic(ch *challenge.Challenge, team challenge.TeamCode) *challenge.ResolvedAccess {
	for _, f := range ch.Files {
		if f.URL == "" {
			continue
		}
		ra := &challenge.ResolvedAccess{
			Category:    challenge.CategoryStatic,
			TeamCode:    team,
			DownloadURL: f.URL,
		}
		if f.Name != "" {
			ra.Hint = "Download " + f.Name
		}
		return ra
	}
	return nil
}
