/*
 * skvalp engine
 *
 * Copyright (c) 2022 Telenor Norge AS
 * Author(s):
 *  - Kristian Lyngstøl <kly@kly.no>
 *
 * This library is free software; you can redistribute it and/or
 * modify it under the terms of the GNU Lesser General Public
 * License as published by the Free Software Foundation; either
 * version 2.1 of the License, or (at your option) any later version.
 *
 * This library is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
 * Lesser General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General Public
 * License along with this library; if not, write to the Free Software
 * Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA
 * 02110-1301  USA
 */

/*
Package engine runs poll requests: one worker per host, bounded by a
limiter, each decoding its own varbinds and streaming records to a sink as
they are built.

Two operations exist. Get issues one flat GET per host. Walk drains one
subtree per configured root, strictly in order, and emits one record per
table row. Either can be preceded by an inherited pass (a Get in inherited
mode over the request's Inherited fields) whose per-host outcome supplies
extra tags, or excludes the host altogether if it failed.
*/
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/telenornms/skvalp"
	"github.com/telenornms/skvalp/limit"
	"github.com/telenornms/skvalp/metrics"
	"github.com/telenornms/skvalp/session"
	"github.com/telenornms/skvalp/sink"
	"github.com/telenornms/skvalp/smierte"
)

// Engine ties a session factory to a sink. It holds no per-request state
// and is safe for concurrent use.
type Engine struct {
	Factory session.Factory
	Sink    sink.Sink
}

// New returns an Engine using gosnmp sessions.
func New(s sink.Sink) *Engine {
	return &Engine{Factory: session.SNMP{}, Sink: s}
}

// Outcome is what a GET left behind for one host. Failed is distinct from
// an empty Values: a failed host is excluded from any pass that uses it
// as an inherited-tag source.
type Outcome struct {
	Failed bool
	Err    error
	Values map[string]interface{} // {"tag": {...}, "field": {...}}
}

// Outcomes maps host to outcome. Hosts that were skipped have no entry.
type Outcomes map[string]*Outcome

// Excluded is true if host is present and failed.
func (o Outcomes) Excluded(host string) bool {
	oc, ok := o[host]
	return ok && oc.Failed
}

// Tags returns what host contributes to each of its records, or nil.
func (o Outcomes) Tags(host string) map[string]interface{} {
	oc, ok := o[host]
	if !ok || oc.Failed {
		return nil
	}
	return oc.Values
}

// prepare copies fields, resolving symbolic OIDs and compiling regexes.
func prepare(fields []skvalp.FieldSpec) ([]skvalp.FieldSpec, error) {
	out := make([]skvalp.FieldSpec, len(fields))
	for i, f := range fields {
		oid, err := smierte.Resolve(f.OID)
		if err != nil {
			return nil, &skvalp.ValidationError{Field: f.Name, Msg: err.Error()}
		}
		f.OID = oid
		if err := f.Compile(); err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func limiter(req *skvalp.PollRequest) (*limit.Limiter, error) {
	n := req.MaxConnections
	if n == 0 {
		n = skvalp.DefaultMaxConnections
	}
	l, err := limit.New(n)
	if err != nil {
		return nil, &skvalp.ValidationError{Field: "maxConnections", Msg: err.Error()}
	}
	return l, nil
}

// open wraps the factory so the open-sessions gauge stays honest.
func (e *Engine) open(ctx context.Context, host string, sc *skvalp.SessionContext) (session.Session, error) {
	s, err := e.Factory.Open(ctx, host, sc)
	if err != nil {
		return nil, err
	}
	metrics.OpenSessions.Inc()
	return s, nil
}

func closeSession(host string, s session.Session) {
	if err := s.Close(); err != nil {
		skvalp.Debugf("%s - closing session: %s", host, err)
	}
	metrics.OpenSessions.Dec()
}

// fanout runs work once per host, at most l.Size() at a time, and waits
// for all of them. A host that never got a slot because ctx ended is
// reported through the returned error.
func fanout(ctx context.Context, l *limit.Limiter, hosts []string, skip func(string) bool, work func(i int, host string)) error {
	var wg sync.WaitGroup
	var once sync.Once
	var ctxErr error
	for i, host := range hosts {
		if skip != nil && skip(host) {
			continue
		}
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				once.Do(func() { ctxErr = err })
				return
			}
			defer l.Release()
			work(i, host)
		}(i, host)
	}
	wg.Wait()
	if ctxErr != nil {
		return fmt.Errorf("operation cut short: %w", ctxErr)
	}
	return nil
}

func observe(op string, start time.Time) {
	metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// PollGet is a full GET request: the inherited pass if the request has
// one, then the main pass.
func (e *Engine) PollGet(ctx context.Context, req *skvalp.PollRequest) (Outcomes, int, error) {
	inh, err := e.Inherited(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("inherited pass: %w", err)
	}
	return e.Get(ctx, req, false, inh)
}

// PollTable is a full table request: the inherited pass if the request
// has one, then the walk.
func (e *Engine) PollTable(ctx context.Context, req *skvalp.PollRequest) (int, error) {
	inh, err := e.Inherited(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("inherited pass: %w", err)
	}
	return e.Walk(ctx, req, inh)
}
