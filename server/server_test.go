/*
 * skvalp HTTP front end tests
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

package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telenornms/skvalp"
	"github.com/telenornms/skvalp/engine"
	"github.com/telenornms/skvalp/record"
	"github.com/telenornms/skvalp/server"
	"github.com/telenornms/skvalp/session"
)

const body = `{
	"hosts": ["192.0.2.1", "192.0.2.2"],
	"community": "public",
	"measurement": "sys",
	"options": {"version": "2c"},
	"oids": [{"oid": "1.3.6.1.2.1.1.5.0", "name": "sysName", "tag": true},
	         {"oid": "1.3.6.1.2.1.1.3.0", "name": "uptime"}]
}`

type poller struct {
	mu    sync.Mutex
	gets  []*skvalp.PollRequest
	walks []*skvalp.PollRequest
	err   error
}

func (p *poller) PollGet(ctx context.Context, req *skvalp.PollRequest) (engine.Outcomes, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets = append(p.gets, req)
	return nil, len(req.Hosts), p.err
}

func (p *poller) PollTable(ctx context.Context, req *skvalp.PollRequest) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.walks = append(p.walks, req)
	return 0, p.err
}

func post(t *testing.T, h http.Handler, path, b string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(b))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGetOK(t *testing.T) {
	p := &poller{}
	w := post(t, server.New(p).Router(), "/snmp/get", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	require.Len(t, p.gets, 1)
	assert.Equal(t, "sys", p.gets[0].Measurement)
	assert.Empty(t, p.walks)
}

func TestTableOK(t *testing.T) {
	p := &poller{}
	w := post(t, server.New(p).Router(), "/snmp/table", body)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, p.walks, 1)
	assert.Empty(t, p.gets)
}

func TestInvalidBody(t *testing.T) {
	p := &poller{}
	h := server.New(p).Router()
	for _, b := range []string{`{`, `{"hosts": []}`, strings.Replace(body, `"community": "public",`, "", 1)} {
		w := post(t, h, "/snmp/get", b)
		assert.Equal(t, http.StatusBadRequest, w.Code, b)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Invalid JSON format", resp["error"])
	}
	assert.Empty(t, p.gets)
}

func TestPollFailure(t *testing.T) {
	p := &poller{err: errors.New("boom")}
	w := post(t, server.New(p).Router(), "/snmp/table", body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Internal Server Error", resp["error"])
}

func TestLateValidationIsBadRequest(t *testing.T) {
	p := &poller{err: &skvalp.ValidationError{Field: "x", Msg: "no such object"}}
	w := post(t, server.New(p).Router(), "/snmp/get", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	h := server.New(&poller{}).Router()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetrics(t *testing.T) {
	h := server.New(&poller{}).Router()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "skvalp_")
}

func TestWrongMethod(t *testing.T) {
	h := server.New(&poller{}).Router()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snmp/get", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// static answers every GET with the same two varbinds.
type static struct{}

func (static) Open(ctx context.Context, host string, sc *skvalp.SessionContext) (session.Session, error) {
	return staticSession{}, nil
}

type staticSession struct{}

func (staticSession) Get(oids []string) ([]skvalp.Varbind, error) {
	return []skvalp.Varbind{
		{OID: oids[0], Kind: skvalp.KindOctetString, Value: []byte("sw1")},
		{OID: oids[1], Kind: skvalp.KindTimeTicks, Value: uint32(100)},
	}, nil
}

func (staticSession) Walk(root string, maxRepetitions int, cb func(skvalp.Varbind) error) error {
	return nil
}

func (staticSession) Close() error { return nil }

type capture struct {
	mu      sync.Mutex
	records []record.Record
}

func (c *capture) Send(r record.Record) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
}

func TestGetThroughEngine(t *testing.T) {
	c := &capture{}
	e := &engine.Engine{Factory: static{}, Sink: c}
	w := post(t, server.New(e).Router(), "/snmp/get", body)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, c.records, 4)
	names := 0
	for _, r := range c.records {
		assert.Equal(t, "sys", r["measurement"])
		if tag, ok := r["tag"].(map[string]interface{}); ok {
			assert.Equal(t, "sw1", tag["sysName"])
			names++
		} else {
			assert.Equal(t, 1.0, r["field"].(map[string]interface{})["uptime"])
		}
	}
	assert.Equal(t, 2, names)
}
