package settings

import (
	"errors"
	"fmt"
	"strings"
)

// Role is a user tier the tests run as.
type Role string

// enum of all supported roles
const (
	Tier1 Role = "tier1" // anonymous
	Tier2 Role = "tier2" // registered
	Tier3 Role = "tier3" // privileged, controlled data access
)

// ErrUnknownRole returned for any role outside of tier1, tier2 and tier3
var ErrUnknownRole = errors.New("unknown role")

// ParseRole converts a case-insensitive role name. Empty name means anonymous.
func ParseRole(name string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(name))); r {
	case "":
		return Tier1, nil
	case Tier1, Tier2, Tier3:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
}

// Roles returns all known roles, anonymous first.
func Roles() []Role { return []Role{Tier1, Tier2, Tier3} }

// AuthenticatedRoles returns roles which need a login.
func AuthenticatedRoles() []Role { return []Role{Tier2, Tier3} }

// RequiresLogin is true for every role but the anonymous one.
func (r Role) RequiresLogin() bool { return r == Tier2 || r == Tier3 }

// Description returns a human name of the tier.
func (r Role) Description() string {
	switch r {
	case Tier1:
		return "anonymous"
	case Tier2:
		return "registered"
	case Tier3:
		return "privileged"
	default:
		return "unknown"
	}
}

// CredentialKeys are the environment variable names holding credentials of a role.
type CredentialKeys struct {
	Username string
	Password string
}

var credentialKeys = map[Role]CredentialKeys{
	Tier2: {Username: "USER_TIER2_USERNAME", Password: "USER_TIER2_PASSWORD"},
	Tier3: {Username: "USER_TIER3_USERNAME", Password: "USER_TIER3_PASSWORD"},
}

// KeysFor returns env var names for the role credentials, false for the anonymous role.
func KeysFor(r Role) (CredentialKeys, bool) {
	k, ok := credentialKeys[r]
	return k, ok
}

// checkCoverage makes sure every role needing a login has both env keys and a settings accessor.
func checkCoverage(s Settings) error {
	for _, r := range AuthenticatedRoles() {
		keys, ok := credentialKeys[r]
		if !ok || keys.Username == "" || keys.Password == "" {
			return fmt.Errorf("no credential env keys for %s", r)
		}
		if _, ok := s.Credentials(r); !ok {
			return fmt.Errorf("no credential accessor for %s", r)
		}
	}
	return nil
}
