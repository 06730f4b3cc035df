/*
 * skvalp common types
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

package skvalp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Defaults applied when a request leaves the value out.
const (
	DefaultMaxConnections = 500
	DefaultMaxRepetitions = 20
	DefaultRetries        = 2
	DefaultTimeout        = 500 * time.Millisecond
	DefaultPort           = 161
)

// Interpretation is how an octet string is read before any conversion.
type Interpretation string

const (
	AsString Interpretation = ""
	AsHex    Interpretation = "hex"
	AsRegex  Interpretation = "regex"
)

// Conversion is applied to every decoded element after splitting.
type Conversion string

const (
	NoConversion Conversion = ""
	ToIPv4       Conversion = "ipv4"
	ToNumber     Conversion = "number"
)

// Split describes an optional string split. Unless Limited is set, every
// piece is kept; otherwise at most Limit pieces are kept and the rest is
// discarded.
//
// On the wire it is either "sep" or ["sep", limit].
type Split struct {
	Sep     string
	Limit   int
	Limited bool
}

func (s *Split) UnmarshalJSON(b []byte) error {
	*s = Split{}
	if err := json.Unmarshal(b, &s.Sep); err == nil {
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("split must be a string or [separator, limit]: %w", err)
	}
	if len(pair) < 1 || len(pair) > 2 {
		return fmt.Errorf("split must have one or two elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &s.Sep); err != nil {
		return fmt.Errorf("split separator: %w", err)
	}
	if len(pair) == 2 {
		if err := json.Unmarshal(pair[1], &s.Limit); err != nil {
			return fmt.Errorf("split limit: %w", err)
		}
		if s.Limit < 0 {
			return fmt.Errorf("split limit must not be negative")
		}
		s.Limited = true
	}
	return nil
}

func (s Split) MarshalJSON() ([]byte, error) {
	if !s.Limited {
		return json.Marshal(s.Sep)
	}
	return json.Marshal([]interface{}{s.Sep, s.Limit})
}

// FieldSpec says where a value comes from and how it ends up in a
// record.
type FieldSpec struct {
	OID        string
	Name       string
	Tag        bool // tag namespace if true, field otherwise
	Type       Interpretation
	Conversion Conversion
	Regex      string
	Map        []string // capture names, positional
	Split      *Split
	IndexSlice []int // [start] or [start, end), walk only

	re *regexp.Regexp
}

// Compile prepares the regex of a regex FieldSpec and checks that the
// capture names line up with the groups.
func (f *FieldSpec) Compile() error {
	if f.Type != AsRegex {
		return nil
	}
	if f.Regex == "" {
		return &ValidationError{Field: f.Name, Msg: "regex type requires a regex"}
	}
	re, err := regexp.Compile(f.Regex)
	if err != nil {
		return &ValidationError{Field: f.Name, Msg: fmt.Sprintf("bad regex: %s", err)}
	}
	if re.NumSubexp() != len(f.Map) {
		return &ValidationError{Field: f.Name, Msg: fmt.Sprintf("regex has %d capture groups but map has %d names", re.NumSubexp(), len(f.Map))}
	}
	f.re = re
	return nil
}

// Regexp returns the compiled pattern, or nil if Compile was never called
// or failed.
func (f *FieldSpec) Regexp() *regexp.Regexp {
	return f.re
}

// Root is the OID without a leading dot.
func (f *FieldSpec) Root() string {
	return strings.TrimPrefix(f.OID, ".")
}

// User is the SNMPv3 credential set.
type User struct {
	Name         string
	Level        string // noAuthNoPriv, authNoPriv, authPriv
	AuthProtocol string
	AuthKey      string
	PrivProtocol string
	PrivKey      string
}

// SessionContext is shared, read-only, by every host worker of a request.
type SessionContext struct {
	Version   string // "1", "2c" or "3"
	Timeout   time.Duration
	Retries   int
	Port      uint16
	Community string // v1 and v2c
	User      *User  // v3
}

// PollRequest is an already validated request. The engine never modifies
// it.
type PollRequest struct {
	Hosts          []string
	Measurement    string
	Fields         []FieldSpec
	Inherited      []FieldSpec
	MaxRepetitions int
	MaxConnections int
	ExtraInfo      map[string]interface{}
	Session        SessionContext
}

// Kind is the protocol data type of a varbind. The set is closed; the
// session package maps whatever the SNMP library reports onto it.
type Kind int

const (
	KindUnknown Kind = iota
	KindBoolean
	KindInteger
	KindBitString
	KindOctetString
	KindNull
	KindObjectIdentifier
	KindIPAddress
	KindCounter32
	KindGauge32
	KindTimeTicks
	KindOpaque
	KindCounter64
	KindUinteger32
	KindOpaqueFloat
	KindOpaqueDouble
	KindNoSuchObject
	KindNoSuchInstance
	KindEndOfMibView
)

var kindNames = [...]string{
	KindUnknown:          "Unknown",
	KindBoolean:          "Boolean",
	KindInteger:          "Integer",
	KindBitString:        "BitString",
	KindOctetString:      "OctetString",
	KindNull:             "Null",
	KindObjectIdentifier: "OID",
	KindIPAddress:        "IpAddress",
	KindCounter32:        "Counter",
	KindGauge32:          "Gauge",
	KindTimeTicks:        "TimeTicks",
	KindOpaque:           "Opaque",
	KindCounter64:        "Counter64",
	KindUinteger32:       "Uinteger32",
	KindOpaqueFloat:      "OpaqueFloat",
	KindOpaqueDouble:     "OpaqueDouble",
	KindNoSuchObject:     "NoSuchObject",
	KindNoSuchInstance:   "NoSuchInstance",
	KindEndOfMibView:     "EndOfMibView",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "NotAnObjectType"
	}
	return kindNames[k]
}

// IsError is true for the exception kinds an agent returns in place of a
// value.
func (k Kind) IsError() bool {
	return k == KindNoSuchObject || k == KindNoSuchInstance || k == KindEndOfMibView
}

// Varbind is one decoded protocol response unit.
type Varbind struct {
	OID   string // full OID, no leading dot
	Kind  Kind
	Value interface{}
}

// ErrorString describes an exception varbind, e.g. "NoSuchObject:
// 1.3.6.1.2.1.1.9.0".
func (v Varbind) ErrorString() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.OID)
}
