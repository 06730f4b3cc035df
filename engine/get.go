/*
 * skvalp get operation
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

package engine

import (
	"context"
	"time"

	"github.com/telenornms/skvalp"
	"github.com/telenornms/skvalp/decode"
	"github.com/telenornms/skvalp/metrics"
	"github.com/telenornms/skvalp/record"
)

// Get polls req.Fields (or req.Inherited in inherited mode) on every host
// with a single GET each.
//
// Outside inherited mode every decoded value is sent as its own record,
// and a host whose GET fails gets one synthetic error record per field.
// In inherited mode nothing is sent. Hosts excluded by inh are skipped
// and get no outcome.
//
// The returned count is the number of records sent.
func (e *Engine) Get(ctx context.Context, req *skvalp.PollRequest, inheritedMode bool, inh Outcomes) (Outcomes, int, error) {
	op := "get"
	fields := req.Fields
	if inheritedMode {
		op = "inherited"
		fields = req.Inherited
	}
	defer observe(op, time.Now())
	fields, err := prepare(fields)
	if err != nil {
		return nil, 0, err
	}
	if len(fields) == 0 {
		return Outcomes{}, 0, &skvalp.ValidationError{Field: "oids", Msg: "no oids to get"}
	}
	l, err := limiter(req)
	if err != nil {
		return nil, 0, err
	}
	oids := make([]string, 0, len(fields))
	for _, f := range fields {
		oids = append(oids, f.OID)
	}

	type result struct {
		outcome *Outcome
		sent    int
	}
	results := make([]*result, len(req.Hosts))
	skip := func(host string) bool {
		if inh.Excluded(host) {
			skvalp.Debugf("%s - %s skipped, inherited lookup failed", host, op)
			metrics.Hosts.WithLabelValues(op, "skipped").Inc()
			return true
		}
		return false
	}
	err = fanout(ctx, l, req.Hosts, skip, func(i int, host string) {
		oc, sent := e.getHost(ctx, host, req, fields, oids, inheritedMode, inh)
		results[i] = &result{outcome: oc, sent: sent}
		if oc.Failed {
			metrics.Hosts.WithLabelValues(op, "failed").Inc()
		} else {
			metrics.Hosts.WithLabelValues(op, "ok").Inc()
		}
	})

	out := make(Outcomes, len(req.Hosts))
	sent := 0
	for i, r := range results {
		if r == nil {
			continue
		}
		out[req.Hosts[i]] = r.outcome
		sent += r.sent
	}
	return out, sent, err
}

func (e *Engine) getHost(ctx context.Context, host string, req *skvalp.PollRequest, fields []skvalp.FieldSpec, oids []string, inheritedMode bool, inh Outcomes) (*Outcome, int) {
	sent := 0
	fail := func(err error) (*Outcome, int) {
		skvalp.WithHost(host).Warnf("GET failed: %s", err)
		if !inheritedMode {
			for _, f := range fields {
				e.Sink.Send(record.Error(host, req.Measurement, f.Name, err))
				sent++
			}
		}
		return &Outcome{Failed: true, Err: err}, sent
	}

	s, err := e.open(ctx, host, &req.Session)
	if err != nil {
		return fail(err)
	}
	defer closeSession(host, s)

	vbs, err := s.Get(oids)
	if err != nil {
		return fail(&skvalp.ProtocolError{Host: host, Err: err})
	}
	pollertime := record.Now()
	rc := record.Context{
		Host:        host,
		Measurement: req.Measurement,
		Inherited:   inh.Tags(host),
		Extra:       req.ExtraInfo,
	}
	values := make(map[string]interface{})
	for i, vb := range vbs {
		if i >= len(fields) {
			skvalp.Logf("%-15s GET returned %d varbinds for %d oids, ignoring the rest", host, len(vbs), len(fields))
			break
		}
		d := decode.Decode(vb, &fields[i])
		if !inheritedMode {
			e.Sink.Send(rc.Get(d, pollertime))
			sent++
		}
		if !d.Err {
			record.Accumulate(values, d)
		}
	}
	skvalp.Debugf("%s - GET done, %d varbinds", host, len(vbs))
	return &Outcome{Values: values}, sent
}

// Inherited runs the inherited pass for req, or returns nil if req has no
// inherited fields.
func (e *Engine) Inherited(ctx context.Context, req *skvalp.PollRequest) (Outcomes, error) {
	if len(req.Inherited) == 0 {
		return nil, nil
	}
	inh, _, err := e.Get(ctx, req, true, nil)
	return inh, err
}
