/*
 * skvalp value decoding
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
Package decode turns raw varbinds into named tag/field values.

Nothing in here does I/O and nothing fails: input that doesn't fit a
conversion degrades to the value as it was before that step.
*/
package decode

import (
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/telenornms/skvalp"
)

// Decoded is one named value, destined for either the tag or field
// namespace of a record.
type Decoded struct {
	Tag   bool
	Name  string
	Value interface{}
	Err   bool // the varbind was an exception, Value is its description
}

// Namespace is "tag" or "field".
func (d Decoded) Namespace() string {
	if d.Tag {
		return "tag"
	}
	return "field"
}

// Decode interprets vb according to f.
//
// Exception varbinds always end up as a tag named after f, holding the
// exception text, whatever f says about namespaces.
func Decode(vb skvalp.Varbind, f *skvalp.FieldSpec) Decoded {
	if vb.Kind.IsError() {
		return Decoded{Tag: true, Name: f.Name, Value: vb.ErrorString(), Err: true}
	}
	v := byKind(vb, f)

	var elems []interface{}
	if s, ok := v.(string); ok && f.Split != nil {
		elems = split(s, *f.Split)
	} else {
		elems = []interface{}{v}
	}
	for i := range elems {
		elems[i] = convert(elems[i], f.Conversion)
	}

	var out interface{} = elems
	if len(elems) == 1 {
		out = elems[0]
	}
	return Decoded{Tag: f.Tag, Name: f.Name, Value: out}
}

func byKind(vb skvalp.Varbind, f *skvalp.FieldSpec) interface{} {
	switch vb.Kind {
	case skvalp.KindOctetString:
		return octetString(vb.Value, f)
	case skvalp.KindCounter64:
		return counter64(vb.Value)
	case skvalp.KindOpaque:
		return str(vb.Value)
	case skvalp.KindTimeTicks:
		if n, ok := toFloat(vb.Value); ok {
			return n / 100
		}
		return vb.Value
	case skvalp.KindUnknown,
		skvalp.KindBoolean,
		skvalp.KindInteger,
		skvalp.KindBitString,
		skvalp.KindNull,
		skvalp.KindObjectIdentifier,
		skvalp.KindIPAddress,
		skvalp.KindCounter32,
		skvalp.KindGauge32,
		skvalp.KindUinteger32,
		skvalp.KindOpaqueFloat,
		skvalp.KindOpaqueDouble,
		skvalp.KindNoSuchObject,
		skvalp.KindNoSuchInstance,
		skvalp.KindEndOfMibView:
		return vb.Value
	}
	return vb.Value
}

func octetString(v interface{}, f *skvalp.FieldSpec) interface{} {
	var b []byte
	switch raw := v.(type) {
	case []byte:
		b = raw
	case string:
		b = []byte(raw)
	default:
		return v
	}
	switch f.Type {
	case skvalp.AsHex:
		return hex.EncodeToString(b)
	case skvalp.AsRegex:
		if m, ok := extract(string(b), f); ok {
			return m
		}
	}
	return string(b)
}

// extract matches s and maps capture group n to f.Map[n]. Groups that
// didn't take part in the match are left out.
func extract(s string, f *skvalp.FieldSpec) (map[string]interface{}, bool) {
	re := f.Regexp()
	if re == nil {
		var err error
		re, err = regexp.Compile(f.Regex)
		if err != nil {
			skvalp.Debugf("regex for %s doesn't compile, keeping raw string: %s", f.Name, err)
			return nil, false
		}
	}
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return nil, false
	}
	m := make(map[string]interface{}, len(f.Map))
	for i, name := range f.Map {
		g := 2 * (i + 1)
		if g+1 >= len(loc) || loc[g] < 0 {
			continue
		}
		m[name] = s[loc[g]:loc[g+1]]
	}
	return m, true
}

// counter64 rebuilds a big-endian byte sequence. gosnmp already hands us
// a uint64, which passes through.
func counter64(v interface{}) interface{} {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if len(b) <= 8 {
		var n uint64
		for _, c := range b {
			n = n<<8 | uint64(c)
		}
		return n
	}
	var f float64
	for _, c := range b {
		f = f*256 + float64(c)
	}
	return f
}

func str(v interface{}) string {
	switch s := v.(type) {
	case []byte:
		return string(s)
	case string:
		return s
	}
	return fmt.Sprint(v)
}

// split follows the usual "split, then keep the first limit pieces"
// semantics, which is not what strings.SplitN does.
func split(s string, sp skvalp.Split) []interface{} {
	parts := strings.Split(s, sp.Sep)
	if sp.Limited && len(parts) > sp.Limit {
		parts = parts[:sp.Limit]
	}
	out := make([]interface{}, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}

func convert(v interface{}, c skvalp.Conversion) interface{} {
	switch c {
	case skvalp.ToNumber:
		return toNumber(v)
	case skvalp.ToIPv4:
		return toIPv4(v)
	}
	return v
}

func toNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return float64(0)
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			u, err := strconv.ParseUint(s[2:], 16, 64)
			if err != nil {
				return v
			}
			return float64(u)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return v
		}
		return f
	case bool:
		if n {
			return float64(1)
		}
		return float64(0)
	}
	return v
}

var (
	dotted = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	hex8   = regexp.MustCompile(`^[0-9A-Fa-f]{8}$`)
	seps   = strings.NewReplacer(":", "", ".", "")
)

func toIPv4(v interface{}) interface{} {
	if n, ok := toUint32(v); ok {
		return fmt.Sprintf("%d.%d.%d.%d", n>>24&0xff, n>>16&0xff, n>>8&0xff, n&0xff)
	}
	s, ok := v.(string)
	if !ok || dotted.MatchString(s) {
		return v
	}
	h := seps.Replace(s)
	if !hex8.MatchString(h) {
		return v
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return v
	}
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

// toUint32 wraps like a 32-bit register would.
func toUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case int:
		return uint32(n), true
	case int32:
		return uint32(n), true
	case int64:
		return uint32(n), true
	case uint:
		return uint32(n), true
	case uint32:
		return n, true
	case uint64:
		return uint32(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return uint32(int64(n)), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
