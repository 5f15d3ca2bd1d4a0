// Copyright 2019 Anapaya Systems
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

package env

const generalSample = `
# The ID of the instance, used in logs and metrics. (default "keymgr")
id = "%s"

# Period at which the zones are checked for due lifecycle passes. (default 1m)
check_interval = "1m"

# Period at which keys that have been deleted long enough are purged. (default 1h)
purge_interval = "1h"

# Delay before a failed pass of a zone is retried. (default 5m)
retry_interval = "5m"

# Number of zones processed concurrently. (default 4)
parallelism = 4

# TTL written to the DNSKEY records of generated keys. (default 1h)
dnskey_ttl = "1h"
`

const metricsSample = `
# The address to export prometheus metrics on (host:port or ip:port or :port).
# The metrics can be found under /metrics. If not set, metrics are not
# exported. (default "")
prometheus = ""
`
