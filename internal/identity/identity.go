// Package identity derives the orchestrator's team identifier from a team code.
//
// The orchestrator tags every instance with team-<hash8> where hash8 is the
// first 8 lowercase hex characters of MD5(team code). The identifier is never
// sent over the wire for matching, so this must stay bit-for-bit identical to
// the orchestrator's scheme: raw UTF-8 bytes, no trimming, no case folding.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"regexp"

	"github.com/28Pollux28/zync/internal/challenge"
)

const (
	Prefix    = "team-"
	hashChars = 8
)

// ErrIdentityUnknown is returned when there is no team code to derive from.
var ErrIdentityUnknown = errors.New("team identity unknown")

var identifierShape = regexp.MustCompile(`^team-[0-9a-f]{8}$`)

func Normalize(code challenge.TeamCode) (challenge.TeamIdentifier, error) {
	if code == "" {
		return "", ErrIdentityUnknown
	}
	sum := md5.Sum([]byte(code))
	return challenge.TeamIdentifier(Prefix + hex.EncodeToString(sum[:])[:hashChars]), nil
}

// IsIdentifier reports whether tag has the canonical team-<8 hex> shape.
func IsIdentifier(tag string) bool {
	return identifierShape.MatchString(tag)
}

// Identity is a team's code together with its derived identifier. It is
// computed once per session and passed to every resolution call.
type Identity struct {
	Code       challenge.TeamCode
	Identifier challenge.TeamIdentifier
}

// New derives the identity for code. An empty code yields the zero Identity,
// which resolves nothing.
func New(code challenge.TeamCode) Identity {
	id, err := Normalize(code)
	if err != nil {
		return Identity{}
	}
	return Identity{Code: code, Identifier: id}
}

func (i Identity) Known() bool {
	return i.Code != "" && i.Identifier != ""
}

func (i Identity) String() string {
	if !i.Known() {
		return "<unknown>"
	}
	return string(i.Code) + "(" + string(i.Identifier) + ")"
}
