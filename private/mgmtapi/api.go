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


// Package mgmtapi implements the HTTP management API of the key manager. It
// exposes the managed zones, their keys and status reports, lets operators
// schedule a zone for an immediate lifecycle pass, and serves the usual
// config, info and log level pages.
//
// All routes live under /api/v1. Errors are reported as problem details
// (RFC 7807).
package mgmtapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pelletier/go-toml/v2"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/zone"
)

// BaseURL is the prefix of all API routes.
const BaseURL = "/api/v1"

// Zones gives access to the managed zones. It is implemented by
// zone.Scheduler.
type Zones interface {
	Zones() []string
	WithZone(ctx context.Context, zone string,
		fn func(*keymgr.Zone, *kasp.Policy) error) error
	Trigger(zone string)
}

// Server implements the management API.
type Server struct {
	Zones    Zones
	Config   http.HandlerFunc
	Info     http.HandlerFunc
	LogLevel http.Handler
	// Now replaces the wall clock if set.
	Now func() time.Time
}

// Handler returns the router serving the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
	}))
	r.Route(BaseURL, func(r chi.Router) {
		if s.Config != nil {
			r.Get("/config", s.Config)
		}
		if s.Info != nil {
			r.Get("/info", s.Info)
		}
		if s.LogLevel != nil {
			r.Method(http.MethodGet, "/log/level", s.LogLevel)
			r.Method(http.MethodPut, "/log/level", s.LogLevel)
		}
		r.Get("/zones", s.GetZones)
		r.Route("/zones/{zone}", func(r chi.Router) {
			r.Get("/", s.GetZone)
			r.Get("/keys", s.GetKeys)
			r.Get("/status", s.GetStatus)
			r.Post("/trigger", s.TriggerZone)
		})
	})
	return r
}

// Problem is an RFC 7807 problem details response.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Problem types.
const (
	BadRequest    = "/problems/bad-request"
	NotFound      = "/problems/not-found"
	InternalError = "/problems/internal-error"
)

// ZoneSummary describes a managed zone.
type ZoneSummary struct {
	Name   string `json:"name"`
	Policy string `json:"policy"`
	Keys   int    `json:"keys"`
	// Chain is the denial of existence mechanism that currently exists.
	Chain string `json:"chain"`
	// Target is the mechanism the zone should use.
	Target string `json:"target"`
	// Rebuild is set while the zone waits for the chain to be rebuilt.
	Rebuild bool `json:"rebuild"`
}

// KeyInfo describes a key and the state of its records.
type KeyInfo struct {
	Tag       uint16     `json:"tag"`
	Algorithm string     `json:"algorithm"`
	Role      string     `json:"role"`
	Goal      string     `json:"goal"`
	DNSKEY    string     `json:"dnskey"`
	ZRRSIG    string     `json:"zone_rrsig"`
	KRRSIG    string     `json:"key_rrsig"`
	DS        string     `json:"ds"`
	Published *time.Time `json:"published,omitempty"`
	Active    *time.Time `json:"active,omitempty"`
	Retired   *time.Time `json:"retired,omitempty"`
	Removed   *time.Time `json:"removed,omitempty"`
	NextEvent *time.Time `json:"next_event,omitempty"`
}

// GetZones lists the managed zones in configuration order.
func (s *Server) GetZones(w http.ResponseWriter, r *http.Request) {
	names := s.Zones.Zones()
	zones := make([]ZoneSummary, 0, len(names))
	for _, name := range names {
		err := s.Zones.WithZone(r.Context(), name, func(z *keymgr.Zone, p *kasp.Policy) error {
			zones = append(zones, summarize(z, p))
			return nil
		})
		if err != nil {
			s.zoneError(w, r, name, err)
			return
		}
	}
	writeJSON(w, zones)
}

// GetZone describes a single zone.
func (s *Server) GetZone(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "zone")
	var summary ZoneSummary
	err := s.Zones.WithZone(r.Context(), name, func(z *keymgr.Zone, p *kasp.Policy) error {
		summary = summarize(z, p)
		return nil
	})
	if err != nil {
		s.zoneError(w, r, name, err)
		return
	}
	writeJSON(w, summary)
}

// GetKeys lists the keys of a zone.
func (s *Server) GetKeys(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "zone")
	now := s.now()
	var infos []KeyInfo
	err := s.Zones.WithZone(r.Context(), name, func(z *keymgr.Zone, p *kasp.Policy) error {
		prop := p.Propagation()
		infos = make([]KeyInfo, 0, len(z.Keys))
		for _, k := range z.Keys {
			infos = append(infos, keyInfo(k, prop, now))
		}
		return nil
	})
	if err != nil {
		s.zoneError(w, r, name, err)
		return
	}
	writeJSON(w, infos)
}

// GetStatus returns the status report of a zone as plain text.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "zone")
	now := s.now()
	var out []byte
	err := s.Zones.WithZone(r.Context(), name, func(z *keymgr.Zone, p *kasp.Policy) error {
		var err error
		out, err = keymgr.StatusReport(p, z.Keys, now)
		return err
	})
	if err != nil {
		s.zoneError(w, r, name, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(out)
}

// TriggerZone schedules an immediate lifecycle pass for a zone.
func (s *Server) TriggerZone(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "zone")
	// Check that the zone exists, Trigger ignores unknown zones.
	err := s.Zones.WithZone(r.Context(), name, func(*keymgr.Zone, *kasp.Policy) error {
		return nil
	})
	if err != nil {
		s.zoneError(w, r, name, err)
		return
	}
	s.Zones.Trigger(name)
	log.FromCtx(r.Context()).Info("Zone pass requested over API", "zone", zone.Normalize(name))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) zoneError(w http.ResponseWriter, r *http.Request, name string, err error) {
	if errors.Is(err, zone.ErrUnknownZone) {
		ErrorResponse(w, Problem{
			Type:   NotFound,
			Title:  "unknown zone",
			Status: http.StatusNotFound,
			Detail: name,
		})
		return
	}
	log.FromCtx(r.Context()).Error("Serving zone request failed", "zone", name, "err", err)
	ErrorResponse(w, Problem{
		Type:   InternalError,
		Title:  "loading zone failed",
		Status: http.StatusInternalServerError,
		Detail: err.Error(),
	})
}

func summarize(z *keymgr.Zone, p *kasp.Policy) ZoneSummary {
	f := z.Chain.Flags
	return ZoneSummary{
		Name:    z.Name,
		Policy:  p.Name,
		Keys:    len(z.Keys),
		Chain:   z.Chain.Active.String(),
		Target:  z.Chain.Target.String(),
		Rebuild: f.CreateChain || f.RemoveChain,
	}
}

func keyInfo(k *dnssec.Key, prop dnssec.Propagation, now time.Time) KeyInfo {
	st := k.States(prop, now)
	t := k.Timing
	return KeyInfo{
		Tag:       k.Tag,
		Algorithm: k.Algorithm.String(),
		Role:      k.Role.String(),
		Goal:      st.Goal.String(),
		DNSKEY:    st.DNSKEY.String(),
		ZRRSIG:    st.ZRRSIG.String(),
		KRRSIG:    st.KRRSIG.String(),
		DS:        st.DS.String(),
		Published: timeRef(t.Publish),
		Active:    timeRef(t.Active),
		Retired:   timeRef(t.Retire),
		Removed:   timeRef(t.Delete),
		NextEvent: timeRef(t.Next(now)),
	}
}

func timeRef(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		ErrorResponse(w, Problem{
			Type:   InternalError,
			Title:  "unable to marshal response",
			Status: http.StatusInternalServerError,
			Detail: err.Error(),
		})
	}
}

// ErrorResponse writes p as problem details.
func ErrorResponse(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	// Nothing left to do if this fails.
	_ = enc.Encode(p)
}

// ConfigHandler serves cfg rendered as TOML.
func ConfigHandler(cfg any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := toml.Marshal(cfg)
		if err != nil {
			ErrorResponse(w, Problem{
				Type:   InternalError,
				Title:  "unable to render config",
				Status: http.StatusInternalServerError,
				Detail: err.Error(),
			})
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(raw)
	}
}

// InfoHandler serves info as plain text.
func InfoHandler(info string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(info))
	}
}
