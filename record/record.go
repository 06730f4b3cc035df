/*
 * skvalp record merging
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

/*
Package record builds output records out of ordered layers.

A record is a plain map of string to scalar, slice or nested map. Layers
are applied in order and later layers win on key collisions. Nested maps
(the "tag" and "field" namespaces, or a regex extraction) are merged key by
key instead of replaced, so an inherited tag does not wipe out the decoded
tags of the record it is attached to.

The order for a GET record is: decoded value, {target, measurement,
pollertime}, inherited tags, extra info. A walk row adds {index} after
target and measurement. Extra info always has the final say.
*/
package record

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/telenornms/skvalp/decode"
)

// Record is what a sink receives.
type Record map[string]interface{}

// Now is the poller timestamp: seconds since the epoch, millisecond
// precision.
func Now() float64 {
	return float64(time.Now().UnixMilli()) / 1000
}

// Merge applies layers in order onto a fresh record. Nil layers are
// skipped. No layer is modified or aliased by the result.
func Merge(layers ...map[string]interface{}) Record {
	r := make(Record)
	for _, l := range layers {
		mergeInto(r, l)
	}
	return r
}

func mergeInto(dst map[string]interface{}, src map[string]interface{}) {
	for k, v := range src {
		sm, srcIsMap := v.(map[string]interface{})
		if !srcIsMap {
			dst[k] = v
			continue
		}
		dm, dstIsMap := dst[k].(map[string]interface{})
		if !dstIsMap {
			dm = make(map[string]interface{}, len(sm))
			dst[k] = dm
		}
		mergeInto(dm, sm)
	}
}

// Layer turns a decoded value into {namespace: {name: value}}.
func Layer(d decode.Decoded) map[string]interface{} {
	return map[string]interface{}{
		d.Namespace(): map[string]interface{}{d.Name: d.Value},
	}
}

// Context carries what is constant for all records of one host.
type Context struct {
	Host        string
	Measurement string
	Inherited   map[string]interface{} // nil when the host has none
	Extra       map[string]interface{}
}

// Get builds the record for one decoded GET value.
func (c *Context) Get(d decode.Decoded, pollertime float64) Record {
	return Merge(
		Layer(d),
		map[string]interface{}{
			"target":      c.Host,
			"measurement": c.Measurement,
			"pollertime":  pollertime,
		},
		c.Inherited,
		c.Extra)
}

// Row builds the record for one accumulated table row. The row carries
// its own pollertime.
func (c *Context) Row(index string, row map[string]interface{}) Record {
	return Merge(
		row,
		map[string]interface{}{
			"target":      c.Host,
			"measurement": c.Measurement,
			"index":       index,
		},
		c.Inherited,
		c.Extra)
}

// Error is the synthetic record sent for every configured field of a host
// whose GET failed.
func Error(host, measurement, name string, err error) Record {
	return Record{
		"target":      host,
		"measurement": measurement,
		"tag": map[string]interface{}{
			"oid":   name,
			"error": err.Error(),
		},
	}
}

// Table accumulates walk results per row index.
type Table map[string]map[string]interface{}

// Add merges d into the row for index. A later value with the same name
// replaces an earlier one.
func (t Table) Add(index string, pollertime float64, d decode.Decoded) {
	row := t[index]
	if row == nil {
		row = make(map[string]interface{})
		t[index] = row
	}
	mergeInto(row, map[string]interface{}{"pollertime": pollertime})
	mergeInto(row, Layer(d))
}

// Accumulate merges d into a host outcome.
func Accumulate(dst map[string]interface{}, d decode.Decoded) {
	mergeInto(dst, Layer(d))
}

// Indexes returns the row keys in OID order: dotted components compare
// numerically where both are numbers.
func (t Table) Indexes() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessIndex(keys[i], keys[j])
	})
	return keys
}

func lessIndex(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aerr := strconv.ParseUint(as[i], 10, 64)
		bn, berr := strconv.ParseUint(bs[i], 10, 64)
		if aerr == nil && berr == nil {
			return an < bn
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}
