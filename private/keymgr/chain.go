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

package keymgr

import (
	"context"
	"time"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// ChainBuilt records that the rebuilder completed the target chain of zone.
func (m *Manager) ChainBuilt(ctx context.Context, zone *Zone) error {
	return m.commitChain(ctx, zone, "built", (*dnssec.ChainState).ChainBuilt)
}

// ChainRemoved records that the rebuilder removed the old chain of zone.
func (m *Manager) ChainRemoved(ctx context.Context, zone *Zone) error {
	return m.commitChain(ctx, zone, "removed", (*dnssec.ChainState).ChainRemoved)
}

func (m *Manager) commitChain(ctx context.Context, zone *Zone, event string,
	update func(*dnssec.ChainState)) error {

	c := zone.Chain
	update(&c)
	if err := c.Validate(); err != nil {
		return serrors.Wrap("invalid chain state", err, "zone", zone.Name, "event", event)
	}
	if err := m.Store.Commit(ctx, zone.Name, Batch{Chain: &c}); err != nil {
		return serrors.Wrap("committing chain state", err, "zone", zone.Name)
	}
	zone.Chain = c
	log.ForZone(ctx, zone.Name).Info("Chain state updated", "event", event,
		"active", c.Active, "target", c.Target, "old", c.Old)
	return nil
}

// updateChain brings the chain state in line with the denial-of-existence
// mechanism the policy asks for.
//
// Flags are set as soon as the policy changes. The Initial flag holds the
// rebuilder back until a key with a capable algorithm is omnipresent, it does
// not delay setting CreateChain.
func (p *pass) updateChain() {
	c := &p.chain
	target := p.policy.Denial()
	params := p.policy.NSEC3Param()
	if c.Target != target || (target == dnssec.MechanismNSEC3 && c.NSEC3 != params) {
		p.logger.Info("Denial of existence changes", "from", c.Target, "to", target)
		// A chain of another mechanism that is still being built.
		abandoned := dnssec.MechanismNone
		if c.Flags.CreateChain && c.Target != c.Active {
			abandoned = c.Target
		}
		c.Target = target
		c.NSEC3 = params
		c.Flags.RemoveChain = false
		switch {
		case target == dnssec.MechanismNone:
			c.Flags = dnssec.ChainFlags{}
			if c.Active != dnssec.MechanismNone {
				c.Old = c.Active
			} else if abandoned != dnssec.MechanismNone {
				c.Old = abandoned
			}
		case target == c.Active && abandoned != dnssec.MechanismNone:
			// The policy went back to the existing chain before the new one
			// was built. The partial chain is removed, the active one stays.
			p.logger.Info("Chain transition abandoned", "mechanism", abandoned)
			c.Flags = dnssec.ChainFlags{}
			c.Old = abandoned
		default:
			c.Flags.CreateChain = true
			c.Flags.Initial = true
			c.Flags.NoNSECYet = c.Active == dnssec.MechanismNone &&
				target == dnssec.MechanismNSEC3
		}
	}

	if c.Flags.Initial {
		if at := p.capableOmnipresentAt(target); !at.IsZero() {
			if p.now.Before(at) {
				p.wake = append(p.wake, at)
			} else {
				c.Flags.Initial = false
				p.logger.Info("Chain precondition met", "mechanism", target)
			}
		}
	}

	if c.Old == dnssec.MechanismNone || c.Flags.RemoveChain || c.Flags.CreateChain {
		return
	}
	switch {
	case target == dnssec.MechanismNone:
		if p.dsGone() {
			c.Flags.RemoveChain = true
		}
	default:
		if at := p.capableOmnipresentAt(target); !at.IsZero() && !p.now.Before(at) {
			c.Flags.RemoveChain = true
		}
	}
	if c.Flags.RemoveChain {
		p.logger.Info("Old chain may be removed", "mechanism", c.Old)
	}
}

// capableOmnipresentAt returns the earliest time a DNSKEY of a policy key with
// an algorithm capable of mechanism m is omnipresent. It is zero if no such
// key is published or scheduled.
func (p *pass) capableOmnipresentAt(m dnssec.Mechanism) time.Time {
	var earliest time.Time
	for _, k := range p.keys {
		if _, ok := p.policy.KeyConfigFor(k); !ok || !m.Capable(k.Algorithm) {
			continue
		}
		if k.RetiredAt(p.now) {
			continue
		}
		at := k.OmnipresentAt(dnssec.RecordDNSKEY, p.prop)
		if at.IsZero() {
			continue
		}
		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}
	return earliest
}
