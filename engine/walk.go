/*
 * skvalp walk operation
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
	"sync/atomic"
	"time"

	"github.com/telenornms/skvalp"
	"github.com/telenornms/skvalp/decode"
	"github.com/telenornms/skvalp/metrics"
	"github.com/telenornms/skvalp/record"
)

// Walk walks every root in req.Fields on every host and sends one record
// per table row. Roots are walked one after the other, so rows sharing an
// index across roots are merged in root order. If a root fails, the rows
// gathered so far are still sent and the remaining roots are skipped for
// that host.
//
// It returns the number of rows sent over all hosts.
func (e *Engine) Walk(ctx context.Context, req *skvalp.PollRequest, inh Outcomes) (int, error) {
	defer observe("walk", time.Now())
	fields, err := prepare(req.Fields)
	if err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 0, &skvalp.ValidationError{Field: "oids", Msg: "no oids to walk"}
	}
	l, err := limiter(req)
	if err != nil {
		return 0, err
	}
	maxRep := req.MaxRepetitions
	if maxRep == 0 {
		maxRep = skvalp.DefaultMaxRepetitions
	}
	var total int64
	skip := func(host string) bool {
		if inh.Excluded(host) {
			skvalp.Debugf("%s - walk skipped, inherited lookup failed", host)
			metrics.Hosts.WithLabelValues("walk", "skipped").Inc()
			return true
		}
		return false
	}
	err = fanout(ctx, l, req.Hosts, skip, func(_ int, host string) {
		n := e.walkHost(ctx, host, req, fields, maxRep, inh)
		atomic.AddInt64(&total, int64(n))
	})
	return int(total), err
}

func (e *Engine) walkHost(ctx context.Context, host string, req *skvalp.PollRequest, fields []skvalp.FieldSpec, maxRep int, inh Outcomes) int {
	tbl := e.walkTable(ctx, host, req, fields, maxRep)
	rc := record.Context{
		Host:        host,
		Measurement: req.Measurement,
		Inherited:   inh.Tags(host),
		Extra:       req.ExtraInfo,
	}
	sent := 0
	for _, idx := range tbl.Indexes() {
		e.Sink.Send(rc.Row(idx, tbl[idx]))
		sent++
	}
	return sent
}

// walkTable does the SNMP part; the session is closed when it returns.
func (e *Engine) walkTable(ctx context.Context, host string, req *skvalp.PollRequest, fields []skvalp.FieldSpec, maxRep int) record.Table {
	tbl := record.Table{}
	s, err := e.open(ctx, host, &req.Session)
	if err != nil {
		skvalp.WithHost(host).Warnf("walk failed: %s", err)
		metrics.Hosts.WithLabelValues("walk", "failed").Inc()
		return tbl
	}
	defer closeSession(host, s)

	for i := range fields {
		f := &fields[i]
		var vbs []skvalp.Varbind
		err := s.Walk(f.OID, maxRep, func(vb skvalp.Varbind) error {
			vbs = append(vbs, vb)
			return nil
		})
		if err != nil {
			skvalp.WithHost(host).Warnf("walk of %s failed, keeping %d rows: %s", f.Name, len(tbl), &skvalp.ProtocolError{Host: host, Err: err})
			metrics.Hosts.WithLabelValues("walk", "failed").Inc()
			return tbl
		}
		pollertime := record.Now()
		for _, vb := range vbs {
			tbl.Add(decode.Index(vb.OID, f), pollertime, decode.Decode(vb, f))
		}
	}
	metrics.Hosts.WithLabelValues("walk", "ok").Inc()
	return tbl
}
