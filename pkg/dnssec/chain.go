// Copyright 2025 SCION Association
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dnssec

import (
	"fmt"
	"strings"

	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// Mechanism is the authenticated denial-of-existence mechanism of a zone.
type Mechanism int

const (
	// MechanismNone is used by unsigned zones.
	MechanismNone Mechanism = iota
	MechanismNSEC
	MechanismNSEC3
)

func (m Mechanism) String() string {
	switch m {
	case MechanismNone:
		return "none"
	case MechanismNSEC:
		return "nsec"
	case MechanismNSEC3:
		return "nsec3"
	default:
		return fmt.Sprintf("Mechanism(%d)", int(m))
	}
}

// ParseMechanism is the inverse of Mechanism.String.
func ParseMechanism(s string) (Mechanism, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return MechanismNone, nil
	case "nsec":
		return MechanismNSEC, nil
	case "nsec3":
		return MechanismNSEC3, nil
	default:
		return 0, serrors.New("unknown denial mechanism", "mechanism", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mechanism) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mechanism) UnmarshalText(b []byte) error {
	v, err := ParseMechanism(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Capable reports whether keys of algorithm a can be used with the mechanism.
func (m Mechanism) Capable(a Algorithm) bool {
	if m == MechanismNSEC3 {
		return a.NSEC3Capable()
	}
	return true
}

// NSEC3Param are the parameters of an NSEC3 chain.
type NSEC3Param struct {
	Iterations uint16 `toml:"iterations"`
	SaltLength uint8  `toml:"salt_length"`
	OptOut     bool   `toml:"opt_out"`
}

// ChainFlags are the instructions for the external chain rebuilder. They are
// independent of each other, legal combinations are checked by
// ChainState.Validate.
type ChainFlags struct {
	// CreateChain asks the rebuilder to build a chain for the target
	// mechanism.
	CreateChain bool `toml:"create_chain"`
	// RemoveChain asks the rebuilder to remove the chain of the old
	// mechanism.
	RemoveChain bool `toml:"remove_chain"`
	// Initial holds the rebuilder back until a key with a capable algorithm
	// is published everywhere.
	Initial bool `toml:"initial"`
	// NoNSECYet tells the rebuilder not to build an NSEC chain before the
	// NSEC3 chain exists.
	NoNSECYet bool `toml:"no_nsec_yet"`
}

// ChainState is the per-zone state shared between the key manager and the
// chain rebuilder. It is persisted next to the keys.
type ChainState struct {
	// Active is the mechanism whose chain currently exists.
	Active Mechanism `toml:"active"`
	// Target is the mechanism the policy asks for.
	Target Mechanism `toml:"target"`
	// Old is the mechanism whose chain is to be removed after a transition.
	Old Mechanism `toml:"old"`
	// NSEC3 holds the parameters of the target chain if it is NSEC3.
	NSEC3 NSEC3Param `toml:"nsec3"`
	Flags ChainFlags `toml:"flags"`
}

// Validate checks that the flags form a legal combination.
func (s ChainState) Validate() error {
	f := s.Flags
	if f.RemoveChain && s.Old == MechanismNone {
		return serrors.New("remove-chain without old chain")
	}
	if f.Initial && !f.CreateChain {
		return serrors.New("wait-for-precondition without create-chain")
	}
	if f.NoNSECYet && (!f.CreateChain || s.Target != MechanismNSEC3) {
		return serrors.New("no-nsec-yet only valid while creating an NSEC3 chain",
			"target", s.Target)
	}
	if f.CreateChain && s.Target == MechanismNone {
		return serrors.New("create-chain without target mechanism")
	}
	return nil
}

// ChainBuilt records that the rebuilder completed the target chain. The chain
// that was active before becomes the old chain awaiting removal. If no chain
// was active or the target is the active chain with unchanged parameters, a
// pending removal is kept.
func (s *ChainState) ChainBuilt() {
	replaced := s.Active != s.Target || s.Flags.CreateChain
	if replaced && s.Active != MechanismNone {
		s.Old = s.Active
	}
	s.Active = s.Target
	s.Flags.CreateChain = false
	s.Flags.Initial = false
	s.Flags.NoNSECYet = false
}

// ChainRemoved records that the rebuilder removed the old chain.
func (s *ChainState) ChainRemoved() {
	s.Old = MechanismNone
	s.Flags.RemoveChain = false
	if s.Target == MechanismNone {
		s.Active = MechanismNone
	}
}
