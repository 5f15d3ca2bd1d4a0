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

package config

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// CtxMap contains the context for sample generation.
type CtxMap map[string]string

// ArrayTableSampler is a TableSampler whose block is an element of an array
// of tables. Its header is written as [[name]].
type ArrayTableSampler interface {
	TableSampler
	ArrayTable()
}

// WriteSample writes the samples in order. Table samplers are written under
// their header with the body indented, other samplers are written as is. It
// panics if writing to dst fails.
func WriteSample(dst io.Writer, path Path, ctx CtxMap, samplers ...Sampler) {
	for _, sampler := range samplers {
		var body bytes.Buffer
		ts, ok := sampler.(TableSampler)
		if !ok {
			sampler.Sample(&body, path, ctx)
			WriteString(dst, body.String())
			continue
		}
		p := path.Extend(ts.ConfigName())
		ts.Sample(&body, p, ctx)
		_, array := sampler.(ArrayTableSampler)
		WriteString(dst, header(p, array))
		WriteString(dst, indent(body.String()))
	}
}

// WriteString writes the string to dst. It panics if an error occurs.
func WriteString(dst io.Writer, s string) {
	if _, err := io.WriteString(dst, s); err != nil {
		panic(fmt.Sprintf("Unable to write sample err=%s", err))
	}
}

// header returns the table header for path on its own line, preceded by an
// empty line.
func header(path Path, array bool) string {
	name := strings.Join(path, ".")
	if array {
		return "\n[[" + name + "]]\n"
	}
	return "\n[" + name + "]\n"
}

// indent indents all non-empty lines of body. Leading empty lines are dropped
// because the header already separates the table.
func indent(body string) string {
	var b strings.Builder
	lines := strings.Split(strings.TrimLeft(body, "\n"), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for _, line := range lines {
		if line != "" {
			b.WriteString("    ")
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return b.String()
}
