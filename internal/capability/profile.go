// ABOUTME: Device capability profile loaded from a TOML manifest.
// ABOUTME: Declares the platform tag, extra caps and the invocation policy.

package capability

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Profile describes the device's capability posture. It travels with the
// install (not the gateway) and is read once at startup.
type Profile struct {
	// Platform tag sent in the connect request (e.g. "linux", "android").
	Platform string `toml:"platform"`

	// Caps are free-form capability tags advertised alongside commands
	// (e.g. "camera", "gps").
	Caps []string `toml:"caps"`

	Policy PolicySection `toml:"policy"`
}

// PolicySection is the [policy] table of the profile manifest.
type PolicySection struct {
	Profile string   `toml:"profile"`
	Allow   []string `toml:"allow"`
}

// LoadProfile reads and validates a profile manifest.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("reading capability profile %q: %w", path, err)
	}

	switch p.Policy.Profile {
	case "", ProfileFull, ProfileRestricted, ProfileNone:
	default:
		return nil, fmt.Errorf("capability profile %q: unknown policy profile %q", path, p.Policy.Profile)
	}
	return &p, nil
}

// ToPolicy converts the manifest's policy section into a router Policy.
func (p *Profile) ToPolicy() Policy {
	return Policy{Profile: p.Policy.Profile, Allow: p.Policy.Allow}
}
