// Package resolver picks the calling team's instance out of a challenge's
// instance list. The list may hold every team's instances, so matching is by
// identity only, never by position or count.
package resolver

import (
	"strings"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
	"golang.org/x/text/cases"
)

// Rule names the precedence rule that matched an instance.
type Rule int

const (
	RuleNone Rule = iota
	RuleIdentifier
	RuleCode
	RuleCodeFold
	RuleCodeContains
)

func (r Rule) String() string {
	switch r {
	case RuleIdentifier:
		return "identifier"
	case RuleCode:
		return "code"
	case RuleCodeFold:
		return "code_fold"
	case RuleCodeContains:
		return "code_contains"
	}
	return "none"
}

// Resolve returns the instance owned by id, or nil when none matches.
func Resolve(instances []challenge.Instance, id identity.Identity) *challenge.Instance {
	inst, _ := ResolveRule(instances, id)
	return inst
}

// ResolveRule is Resolve that also reports which rule matched.
//
// Rules are tried in precedence order and each one scans the list in order:
// an exact identifier match later in the list beats a legacy match earlier.
// Matching is precedence-major, not list-major; list order only breaks ties
// between instances matched by the same rule. A list-major scan would let a
// loose legacy tag listed first shadow the team's own identifier.
// The caseless rules never claim a tag shaped like a TeamIdentifier, since such
// a tag belongs to whichever team hashes to it.
func ResolveRule(instances []challenge.Instance, id identity.Identity) (*challenge.Instance, Rule) {
	if !id.Known() || len(instances) == 0 {
		return nil, RuleNone
	}
	ident := string(id.Identifier)
	code := string(id.Code)
	folder := cases.Fold()
	foldedCode := folder.String(code)

	rules := []struct {
		rule  Rule
		match func(tag string) bool
	}{
		{RuleIdentifier, func(tag string) bool { return tag == ident }},
		{RuleCode, func(tag string) bool { return tag == code }},
		{RuleCodeFold, func(tag string) bool {
			return !identity.IsIdentifier(tag) && folder.String(tag) == foldedCode
		}},
		{RuleCodeContains, func(tag string) bool {
			return !identity.IsIdentifier(tag) && strings.Contains(folder.String(tag), foldedCode)
		}},
	}

	for _, r := range rules {
		for i := range instances {
			tag := instances[i].Tag
			if tag == "" {
				continue
			}
			if r.match(tag) {
				return &instances[i], r.rule
			}
		}
	}
	return nil, RuleNone
}

// Usable reports whether inst can be handed to the player: a real network
// address, or a console URL for a virtual machine.
func Usable(ch *challenge.Challenge, inst *challenge.Instance) bool {
	if ch == nil || inst == nil {
		return false
	}
	if inst.Status == challenge.StatusError || inst.Status == challenge.StatusDeleting {
		return false
	}
	switch ch.Category {
	case challenge.CategoryContainerized:
		if d, ok := inst.Details.(challenge.ContainerDetails); ok && d.URL != "" {
			return true
		}
		return challenge.UsableAddress(inst.Address)
	case challenge.CategoryVirtualized:
		return challenge.UsableAddress(inst.Address) || inst.ConsoleURL() != ""
	}
	return false
}
