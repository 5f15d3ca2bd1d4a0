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

package dnssec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/pkg/dnssec"
)

func TestChainStateValidate(t *testing.T) {
	tests := map[string]struct {
		state     dnssec.ChainState
		assertErr assert.ErrorAssertionFunc
	}{
		"idle": {
			state:     dnssec.ChainState{Active: dnssec.MechanismNSEC, Target: dnssec.MechanismNSEC},
			assertErr: assert.NoError,
		},
		"create nsec3 from unsigned": {
			state: dnssec.ChainState{Target: dnssec.MechanismNSEC3, Flags: dnssec.ChainFlags{
				CreateChain: true, Initial: true, NoNSECYet: true,
			}},
			assertErr: assert.NoError,
		},
		"remove without old": {
			state:     dnssec.ChainState{Flags: dnssec.ChainFlags{RemoveChain: true}},
			assertErr: assert.Error,
		},
		"initial without create": {
			state: dnssec.ChainState{Target: dnssec.MechanismNSEC,
				Flags: dnssec.ChainFlags{Initial: true}},
			assertErr: assert.Error,
		},
		"no nsec yet for nsec target": {
			state: dnssec.ChainState{Target: dnssec.MechanismNSEC,
				Flags: dnssec.ChainFlags{CreateChain: true, NoNSECYet: true}},
			assertErr: assert.Error,
		},
		"create without target": {
			state:     dnssec.ChainState{Flags: dnssec.ChainFlags{CreateChain: true}},
			assertErr: assert.Error,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tc.assertErr(t, tc.state.Validate())
		})
	}
}

func TestChainTransition(t *testing.T) {
	s := dnssec.ChainState{
		Active: dnssec.MechanismNSEC,
		Target: dnssec.MechanismNSEC3,
		Flags:  dnssec.ChainFlags{CreateChain: true},
	}
	s.ChainBuilt()
	assert.Equal(t, dnssec.MechanismNSEC3, s.Active)
	assert.Equal(t, dnssec.MechanismNSEC, s.Old)
	assert.False(t, s.Flags.CreateChain)
	require.NoError(t, s.Validate())

	s.Flags.RemoveChain = true
	require.NoError(t, s.Validate())
	s.ChainRemoved()
	assert.Equal(t, dnssec.ChainState{
		Active: dnssec.MechanismNSEC3,
		Target: dnssec.MechanismNSEC3,
	}, s)
}

func TestChainBuiltKeepsPendingRemoval(t *testing.T) {
	tests := map[string]struct {
		state dnssec.ChainState
		old   dnssec.Mechanism
	}{
		"nothing active": {
			state: dnssec.ChainState{
				Target: dnssec.MechanismNSEC,
				Old:    dnssec.MechanismNSEC3,
				Flags:  dnssec.ChainFlags{CreateChain: true},
			},
			old: dnssec.MechanismNSEC3,
		},
		"late report of abandoned chain": {
			state: dnssec.ChainState{
				Active: dnssec.MechanismNSEC,
				Target: dnssec.MechanismNSEC,
				Old:    dnssec.MechanismNSEC3,
				Flags:  dnssec.ChainFlags{RemoveChain: true},
			},
			old: dnssec.MechanismNSEC3,
		},
		"new parameters": {
			state: dnssec.ChainState{
				Active: dnssec.MechanismNSEC3,
				Target: dnssec.MechanismNSEC3,
				NSEC3:  dnssec.NSEC3Param{Iterations: 5},
				Flags:  dnssec.ChainFlags{CreateChain: true},
			},
			old: dnssec.MechanismNSEC3,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := tc.state
			s.ChainBuilt()
			assert.Equal(t, tc.old, s.Old)
			assert.Equal(t, tc.state.Target, s.Active)
			assert.False(t, s.Flags.CreateChain)
			require.NoError(t, s.Validate())
		})
	}
}

func TestMechanismCapable(t *testing.T) {
	assert.True(t, dnssec.MechanismNSEC.Capable(dnssec.RSASHA1))
	assert.False(t, dnssec.MechanismNSEC3.Capable(dnssec.RSASHA1))
	assert.True(t, dnssec.MechanismNSEC3.Capable(dnssec.ECDSAP384SHA384))

	var m dnssec.Mechanism
	require.NoError(t, m.UnmarshalText([]byte("NSEC3")))
	assert.Equal(t, dnssec.MechanismNSEC3, m)
	assert.Error(t, m.UnmarshalText([]byte("nsec5")))
}
