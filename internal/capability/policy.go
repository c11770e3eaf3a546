// ABOUTME: Invocation policy: which registered commands the gateway may invoke.
// ABOUTME: Profile-based with an allowlist for the restricted profile.

package capability

// Policy profiles.
const (
	ProfileFull       = "full"       // every registered command
	ProfileRestricted = "restricted" // allowlist only
	ProfileNone       = "none"       // nothing; the device is observe-only
)

// Policy gates invoke dispatch. A command outside the policy produces a
// PermissionDenied response and is excluded from the advertised command set.
type Policy struct {
	Profile string
	Allow   []string
}

// Allows reports whether the command may be dispatched under this policy.
// An unset profile defaults to full.
func (p Policy) Allows(command string) bool {
	switch p.Profile {
	case "", ProfileFull:
		return true
	case ProfileNone:
		return false
	case ProfileRestricted:
		for _, allowed := range p.Allow {
			if allowed == command {
				return true
			}
		}
		return false
	default:
		// Unknown profile fails closed.
		return false
	}
}
