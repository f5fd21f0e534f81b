package thread

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a bit position in an operator's permission mask.
type Capability uint

const (
	CanAdministrate Capability = iota
	CanTakeover
	CanViewThreads
	CanModifyProfile
)

var capabilityNames = map[Capability]string{
	CanAdministrate:  "administrate",
	CanTakeover:      "takeover",
	CanViewThreads:   "view_threads",
	CanModifyProfile: "modify_profile",
}

func (c Capability) String() string {
	if n, ok := capabilityNames[c]; ok {
		return n
	}
	return fmt.Sprintf("capability(%d)", uint(c))
}

// ParseCapability maps a capability name to its bit.
func ParseCapability(name string) (Capability, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for c, n := range capabilityNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// Permissions is a capability bitmask.
type Permissions uint32

// With returns p with the given capabilities set.
func (p Permissions) With(caps ...Capability) Permissions {
	for _, c := range caps {
		p |= 1 << c
	}
	return p
}

// Has reports whether capability c is set.
func (p Permissions) Has(c Capability) bool {
	return p&(1<<c) != 0
}

// Names lists the set capabilities in a stable order.
func (p Permissions) Names() []string {
	var out []string
	for c, n := range capabilityNames {
		if p.Has(c) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Operator is a human agent account.
type Operator struct {
	ID          int64
	Login       string
	Name        string
	Code        string
	Permissions Permissions
}

// Can reports whether the operator holds capability c. A nil operator holds
// nothing.
func (o *Operator) Can(c Capability) bool {
	if o == nil {
		return false
	}
	return o.Permissions.Has(c)
}
