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
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// Algorithm is a DNSSEC algorithm number as assigned by IANA.
type Algorithm uint8

// Algorithms known to the key manager.
const (
	RSAMD5           Algorithm = Algorithm(dns.RSAMD5)
	DSA              Algorithm = Algorithm(dns.DSA)
	RSASHA1          Algorithm = Algorithm(dns.RSASHA1)
	DSANSEC3SHA1     Algorithm = Algorithm(dns.DSANSEC3SHA1)
	RSASHA1NSEC3SHA1 Algorithm = Algorithm(dns.RSASHA1NSEC3SHA1)
	RSASHA256        Algorithm = Algorithm(dns.RSASHA256)
	RSASHA512        Algorithm = Algorithm(dns.RSASHA512)
	ECDSAP256SHA256  Algorithm = Algorithm(dns.ECDSAP256SHA256)
	ECDSAP384SHA384  Algorithm = Algorithm(dns.ECDSAP384SHA384)
	ED25519          Algorithm = Algorithm(dns.ED25519)
	ED448            Algorithm = Algorithm(dns.ED448)
)

// ParseAlgorithm parses an algorithm given either by mnemonic (for example
// "ECDSAP256SHA256") or by number.
func ParseAlgorithm(s string) (Algorithm, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return Algorithm(n), nil
	}
	if a, ok := dns.StringToAlgorithm[strings.ToUpper(s)]; ok {
		return Algorithm(a), nil
	}
	return 0, serrors.New("unknown DNSSEC algorithm", "algorithm", s)
}

func (a Algorithm) String() string {
	if s, ok := dns.AlgorithmToString[uint8(a)]; ok {
		return s
	}
	return strconv.Itoa(int(a))
}

// NSEC3Capable reports whether zones signed with keys of this algorithm can use
// NSEC3. The original RSASHA1 and DSA numbers predate NSEC3 and are not.
func (a Algorithm) NSEC3Capable() bool {
	switch a {
	case DSANSEC3SHA1, RSASHA1NSEC3SHA1, RSASHA256, RSASHA512,
		ECDSAP256SHA256, ECDSAP384SHA384, ED25519, ED448:
		return true
	default:
		return false
	}
}

// Supported reports whether keys of this algorithm can be generated.
func (a Algorithm) Supported() bool {
	switch a {
	case RSASHA1, RSASHA1NSEC3SHA1, RSASHA256, RSASHA512,
		ECDSAP256SHA256, ECDSAP384SHA384, ED25519:
		return true
	default:
		return false
	}
}

// DefaultBits returns the key size used when a policy does not specify one.
func (a Algorithm) DefaultBits() int {
	switch a {
	case RSASHA1, RSASHA1NSEC3SHA1, RSASHA256, RSASHA512:
		return 2048
	case ECDSAP256SHA256, ED25519:
		return 256
	case ECDSAP384SHA384:
		return 384
	default:
		return 0
	}
}

// ValidBits reports whether bits is a legal key size for the algorithm.
func (a Algorithm) ValidBits(bits int) bool {
	switch a {
	case RSASHA1, RSASHA1NSEC3SHA1, RSASHA256, RSASHA512:
		return bits >= 1024 && bits <= 4096
	default:
		return bits == a.DefaultBits()
	}
}
