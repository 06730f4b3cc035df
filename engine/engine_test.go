/*
 * skvalp engine tests
 *
 * Copyright (c) 2024 Telenor Norge AS
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

package engine_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telenornms/skvalp"
	"github.com/telenornms/skvalp/engine"
	"github.com/telenornms/skvalp/record"
	"github.com/telenornms/skvalp/session"
)

// agent fakes a fleet of SNMP agents. get is keyed by host and oid; a
// host listed in getErr fails every GET.
type agent struct {
	get     map[string]map[string]skvalp.Varbind
	getErr  map[string]error
	walk    map[string]map[string][]skvalp.Varbind
	walkErr map[string]map[string]error
	openErr map[string]error
	delay   time.Duration

	mu      sync.Mutex
	open    int
	maxOpen int
	opened  int
	closed  int
	walked  []string
}

func (a *agent) Open(ctx context.Context, host string, sc *skvalp.SessionContext) (session.Session, error) {
	if err := a.openErr[host]; err != nil {
		return nil, &skvalp.SessionCreationError{Host: host, Err: err}
	}
	a.mu.Lock()
	a.open++
	a.opened++
	if a.open > a.maxOpen {
		a.maxOpen = a.open
	}
	a.mu.Unlock()
	return &fakeSession{a: a, host: host}, nil
}

type fakeSession struct {
	a    *agent
	host string
}

func (s *fakeSession) Get(oids []string) ([]skvalp.Varbind, error) {
	time.Sleep(s.a.delay)
	if err := s.a.getErr[s.host]; err != nil {
		return nil, err
	}
	out := make([]skvalp.Varbind, 0, len(oids))
	for _, o := range oids {
		vb, ok := s.a.get[s.host][o]
		if !ok {
			vb = skvalp.Varbind{OID: o, Kind: skvalp.KindNoSuchObject}
		}
		out = append(out, vb)
	}
	return out, nil
}

func (s *fakeSession) Walk(root string, maxRepetitions int, cb func(skvalp.Varbind) error) error {
	time.Sleep(s.a.delay)
	s.a.mu.Lock()
	s.a.walked = append(s.a.walked, s.host+" "+root)
	s.a.mu.Unlock()
	for _, vb := range s.a.walk[s.host][root] {
		if err := cb(vb); err != nil {
			return err
		}
	}
	return s.a.walkErr[s.host][root]
}

func (s *fakeSession) Close() error {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	s.a.open--
	s.a.closed++
	return nil
}

type capture struct {
	mu   sync.Mutex
	recs []record.Record
}

func (c *capture) Send(r record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, r)
}

func (c *capture) byTarget(host string) []record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []record.Record
	for _, r := range c.recs {
		if r["target"] == host {
			out = append(out, r)
		}
	}
	return out
}

const uptimeOID = "1.3.6.1.2.1.1.3.0"
const sysNameOID = "1.3.6.1.2.1.1.5.0"

func baseRequest(hosts ...string) *skvalp.PollRequest {
	return &skvalp.PollRequest{
		Hosts:       hosts,
		Measurement: "system",
		Fields:      []skvalp.FieldSpec{{OID: uptimeOID, Name: "uptime"}},
		Session:     skvalp.SessionContext{Version: "2c", Community: "public"},
	}
}

func TestGetEndToEnd(t *testing.T) {
	a := &agent{
		get: map[string]map[string]skvalp.Varbind{
			"A": {uptimeOID: {OID: uptimeOID, Kind: skvalp.KindInteger, Value: 42}},
		},
		getErr: map[string]error{"B": errors.New("request timeout (after 2 retries)")},
	}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}

	out, sent, err := e.Get(context.Background(), baseRequest("A", "B"), false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Len(t, c.recs, 2)

	ra := c.byTarget("A")
	require.Len(t, ra, 1)
	assert.Equal(t, map[string]interface{}{"uptime": 42}, ra[0]["field"])
	assert.Equal(t, "system", ra[0]["measurement"])
	assert.Contains(t, ra[0], "pollertime")

	rb := c.byTarget("B")
	require.Len(t, rb, 1)
	assert.Equal(t, record.Record{
		"target":      "B",
		"measurement": "system",
		"tag":         map[string]interface{}{"oid": "uptime", "error": "request timeout (after 2 retries)"},
	}, rb[0])

	require.Contains(t, out, "A")
	assert.False(t, out["A"].Failed)
	assert.Equal(t, map[string]interface{}{"field": map[string]interface{}{"uptime": 42}}, out["A"].Values)
	require.Contains(t, out, "B")
	assert.True(t, out["B"].Failed)

	assert.Equal(t, a.opened, a.closed)
}

func TestGetOneErrorRecordPerField(t *testing.T) {
	a := &agent{openErr: map[string]error{"down": errors.New("no route to host")}}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	req := baseRequest("down")
	req.Fields = append(req.Fields, skvalp.FieldSpec{OID: sysNameOID, Name: "sysName", Tag: true})

	out, sent, err := e.Get(context.Background(), req, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.True(t, out["down"].Failed)
	var names []string
	for _, r := range c.recs {
		names = append(names, r["tag"].(map[string]interface{})["oid"].(string))
	}
	sort.Strings(names)
	assert.Equal(t, []string{"sysName", "uptime"}, names)
}

func TestGetExceptionVarbind(t *testing.T) {
	a := &agent{get: map[string]map[string]skvalp.Varbind{
		"A": {sysNameOID: {OID: sysNameOID, Kind: skvalp.KindOctetString, Value: []byte("core-1")}},
	}}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	req := baseRequest("A")
	req.Fields = append(req.Fields, skvalp.FieldSpec{OID: sysNameOID, Name: "sysName", Tag: true})

	out, sent, err := e.Get(context.Background(), req, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	// uptime comes back as NoSuchObject: sent as a tag, not kept.
	assert.Equal(t, map[string]interface{}{"tag": map[string]interface{}{"sysName": "core-1"}}, out["A"].Values)
	found := false
	for _, r := range c.recs {
		if tag, ok := r["tag"].(map[string]interface{}); ok && tag["uptime"] == "NoSuchObject: "+uptimeOID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGetExtraInfoAndPrecedence(t *testing.T) {
	a := &agent{get: map[string]map[string]skvalp.Varbind{
		"A": {uptimeOID: {OID: uptimeOID, Kind: skvalp.KindOctetString, Value: []byte("x")}},
	}}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	req := baseRequest("A")
	req.Fields[0].Name = "target"
	req.ExtraInfo = map[string]interface{}{"site": "oslo"}

	_, _, err := e.Get(context.Background(), req, false, nil)
	require.NoError(t, err)
	require.Len(t, c.recs, 1)
	assert.Equal(t, "A", c.recs[0]["target"])
	assert.Equal(t, "oslo", c.recs[0]["site"])
}

func TestMaxConnections(t *testing.T) {
	a := &agent{delay: 2 * time.Millisecond}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	var hosts []string
	for i := 0; i < 60; i++ {
		hosts = append(hosts, string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	req := baseRequest(hosts...)
	req.MaxConnections = 4

	out, sent, err := e.Get(context.Background(), req, false, nil)
	require.NoError(t, err)
	assert.Len(t, out, 60)
	assert.Equal(t, 60, sent)
	assert.LessOrEqual(t, a.maxOpen, 4)
	assert.Equal(t, 0, a.open)
	assert.Equal(t, 60, a.closed)

	_, err = e.Walk(context.Background(), req, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, a.maxOpen, 4)
}

func TestInheritedExclusion(t *testing.T) {
	a := &agent{
		get: map[string]map[string]skvalp.Varbind{
			"A": {
				uptimeOID:  {OID: uptimeOID, Kind: skvalp.KindInteger, Value: 1},
				sysNameOID: {OID: sysNameOID, Kind: skvalp.KindOctetString, Value: []byte("core-a")},
			},
		},
	}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	req := baseRequest("A", "B")
	req.Inherited = []skvalp.FieldSpec{{OID: sysNameOID, Name: "sysName", Tag: true}}

	inh, err := e.Inherited(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, c.recs, "inherited pass must not send anything")
	require.Contains(t, inh, "A")
	assert.False(t, inh.Excluded("A"))

	// B fails its inherited lookup only.
	a.getErr = map[string]error{"B": errors.New("timeout")}
	inh, err = e.Inherited(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, inh.Excluded("B"))
	assert.Empty(t, c.recs)
	a.getErr = nil

	out, sent, err := e.Get(context.Background(), req, false, inh)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.NotContains(t, out, "B")
	assert.Empty(t, c.byTarget("B"))
	ra := c.byTarget("A")
	require.Len(t, ra, 1)
	assert.Equal(t, map[string]interface{}{"sysName": "core-a"}, ra[0]["tag"])
	assert.Equal(t, map[string]interface{}{"uptime": 1}, ra[0]["field"])
}

func TestPollGetWithoutInherited(t *testing.T) {
	a := &agent{}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	out, sent, err := e.PollGet(context.Background(), baseRequest("A"))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.False(t, out["A"].Failed)
}

const (
	ifDescr     = "1.3.6.1.2.1.2.2.1.2"
	ifInOctets  = "1.3.6.1.2.1.2.2.1.10"
	ifOutOctets = "1.3.6.1.2.1.2.2.1.16"
)

func tableRequest(hosts ...string) *skvalp.PollRequest {
	req := baseRequest(hosts...)
	req.Measurement = "interfaces"
	req.Fields = []skvalp.FieldSpec{
		{OID: ifDescr, Name: "ifDescr", Tag: true},
		{OID: ifInOctets, Name: "ifInOctets"},
		{OID: ifOutOctets, Name: "ifOutOctets"},
	}
	return req
}

func walkData() map[string][]skvalp.Varbind {
	return map[string][]skvalp.Varbind{
		ifDescr: {
			{OID: ifDescr + ".1", Kind: skvalp.KindOctetString, Value: []byte("lo")},
			{OID: ifDescr + ".2", Kind: skvalp.KindOctetString, Value: []byte("eth0")},
		},
		ifInOctets: {
			{OID: ifInOctets + ".1", Kind: skvalp.KindCounter32, Value: uint(10)},
			{OID: ifInOctets + ".2", Kind: skvalp.KindCounter32, Value: uint(20)},
		},
		ifOutOctets: {
			{OID: ifOutOctets + ".2", Kind: skvalp.KindCounter32, Value: uint(30)},
		},
	}
}

func TestWalk(t *testing.T) {
	a := &agent{walk: map[string]map[string][]skvalp.Varbind{"A": walkData()}}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	req := tableRequest("A")
	req.ExtraInfo = map[string]interface{}{"source": "test"}

	n, err := e.Walk(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, c.recs, 2)
	assert.Equal(t, "1", c.recs[0]["index"])
	assert.Equal(t, map[string]interface{}{"ifDescr": "lo"}, c.recs[0]["tag"])
	assert.Equal(t, map[string]interface{}{"ifInOctets": uint(10)}, c.recs[0]["field"])
	assert.Equal(t, "2", c.recs[1]["index"])
	assert.Equal(t, map[string]interface{}{"ifInOctets": uint(20), "ifOutOctets": uint(30)}, c.recs[1]["field"])
	assert.Equal(t, "test", c.recs[1]["source"])
	assert.Equal(t, "interfaces", c.recs[1]["measurement"])
	assert.Equal(t, []string{"A " + ifDescr, "A " + ifInOctets, "A " + ifOutOctets}, a.walked)
	assert.Equal(t, 0, a.open)
}

func TestWalkLeafRoot(t *testing.T) {
	const sysName = "1.3.6.1.2.1.1.5.0"
	a := &agent{walk: map[string]map[string][]skvalp.Varbind{"A": {
		sysName: {{OID: sysName, Kind: skvalp.KindOctetString, Value: []byte("sw1")}},
	}}}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	req := baseRequest("A")
	req.Fields = []skvalp.FieldSpec{{OID: sysName, Name: "sysName", Tag: true}}

	n, err := e.Walk(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, c.recs, 1)
	assert.Equal(t, "", c.recs[0]["index"])
	assert.Equal(t, map[string]interface{}{"sysName": "sw1"}, c.recs[0]["tag"])
}

func TestWalkPartialFailure(t *testing.T) {
	a := &agent{
		walk: map[string]map[string][]skvalp.Varbind{"A": walkData(), "B": walkData()},
		walkErr: map[string]map[string]error{
			"A": {ifInOctets: errors.New("request timeout")},
		},
		openErr: map[string]error{"C": errors.New("bad address")},
	}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}

	n, err := e.Walk(context.Background(), tableRequest("A", "B", "C"), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	ra := c.byTarget("A")
	require.Len(t, ra, 2)
	for _, r := range ra {
		assert.NotContains(t, r, "field", "failed root must not contribute")
		assert.Contains(t, r, "tag")
	}
	assert.Len(t, c.byTarget("B"), 2)
	assert.Empty(t, c.byTarget("C"))
	assert.Equal(t, a.opened, a.closed)
	for _, w := range a.walked {
		assert.NotEqual(t, "A "+ifOutOctets, w, "roots after a failure are skipped")
	}
}

func TestWalkLaterRootWins(t *testing.T) {
	data := walkData()
	data[ifOutOctets] = []skvalp.Varbind{{OID: ifOutOctets + ".1", Kind: skvalp.KindCounter32, Value: uint(99)}}
	a := &agent{walk: map[string]map[string][]skvalp.Varbind{"A": data}}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	req := tableRequest("A")
	req.Fields[2].Name = "ifInOctets"

	_, err := e.Walk(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ifInOctets": uint(99)}, c.recs[0]["field"])
}

func TestWalkIndexSlice(t *testing.T) {
	root := "1.3.6.1.2.1.4.22.1.2"
	a := &agent{walk: map[string]map[string][]skvalp.Varbind{"A": {
		root: {
			{OID: root + ".5.10.0.0.1", Kind: skvalp.KindOctetString, Value: []byte{0, 1, 2, 3, 4, 5}},
			{OID: root + ".5.10.0.0.2", Kind: skvalp.KindOctetString, Value: []byte{0, 1, 2, 3, 4, 6}},
		},
	}}}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	req := baseRequest("A")
	req.Fields = []skvalp.FieldSpec{{OID: root, Name: "mac", Type: skvalp.AsHex, IndexSlice: []int{0, 1}}}

	n, err := e.Walk(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "both varbinds land on index 5")
	assert.Equal(t, "5", c.recs[0]["index"])
	assert.Equal(t, map[string]interface{}{"mac": "000102030406"}, c.recs[0]["field"])
}

func TestWalkSkipsExcludedHosts(t *testing.T) {
	a := &agent{walk: map[string]map[string][]skvalp.Varbind{"A": walkData(), "B": walkData()}}
	c := &capture{}
	e := &engine.Engine{Factory: a, Sink: c}
	inh := engine.Outcomes{
		"A": {Values: map[string]interface{}{"tag": map[string]interface{}{"sysName": "core-a"}}},
		"B": {Failed: true},
	}
	n, err := e.Walk(context.Background(), tableRequest("A", "B"), inh)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, c.byTarget("B"))
	for _, r := range c.byTarget("A") {
		assert.Equal(t, "core-a", r["tag"].(map[string]interface{})["sysName"])
	}
}

func TestSymbolicOIDWithoutMibs(t *testing.T) {
	e := &engine.Engine{Factory: &agent{}, Sink: &capture{}}
	req := baseRequest("A")
	req.Fields[0].OID = "sysUpTime.0"
	_, _, err := e.Get(context.Background(), req, false, nil)
	var verr *skvalp.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestBadRegexRejected(t *testing.T) {
	e := &engine.Engine{Factory: &agent{}, Sink: &capture{}}
	req := tableRequest("A")
	req.Fields[0].Type = skvalp.AsRegex
	req.Fields[0].Regex = "(a"
	_, err := e.Walk(context.Background(), req, nil)
	var verr *skvalp.ValidationError
	assert.ErrorAs(t, err, &verr)
}
