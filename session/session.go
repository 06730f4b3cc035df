/*
 * skvalp session
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

// Package session wraps gosnmp behind a small interface so the engine can
// be driven by fakes in tests.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/gosnmp/gosnmp"
	"github.com/telenornms/skvalp"
)

// Session is an open SNMP session towards a single host. Close must be
// called on every path once the session is no longer needed.
type Session interface {
	// Get issues one GET for all oids. The returned varbinds are in
	// request order.
	Get(oids []string) ([]skvalp.Varbind, error)
	// Walk retrieves every varbind below root, in as many round-trips
	// as needed, calling cb for each. Exception varbinds are skipped.
	Walk(root string, maxRepetitions int, cb func(skvalp.Varbind) error) error
	Close() error
}

// Factory builds one session per host from the request's shared
// SessionContext. It never retries; retries and timeouts belong to the
// session itself.
type Factory interface {
	Open(ctx context.Context, host string, sc *skvalp.SessionContext) (Session, error)
}

// SNMP is the gosnmp-backed Factory.
type SNMP struct{}

// Open connects to host. Failures are returned as
// *skvalp.SessionCreationError.
func (SNMP) Open(ctx context.Context, host string, sc *skvalp.SessionContext) (Session, error) {
	s, err := NewSession(ctx, host, sc)
	if err != nil {
		return nil, &skvalp.SessionCreationError{Host: host, Err: err}
	}
	return s, nil
}

// SNMPSession is a connected gosnmp session.
type SNMPSession struct {
	S       *gosnmp.GoSNMP
	Target  string
	version gosnmp.SnmpVersion
}

// NewSession sets up and connects a gosnmp session. For UDP, connecting
// only binds a socket; the first request is what actually reaches the
// agent.
func NewSession(ctx context.Context, target string, sc *skvalp.SessionContext) (*SNMPSession, error) {
	gs, err := build(target, sc)
	if err != nil {
		return nil, err
	}
	gs.Context = ctx
	if err := gs.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect: %w", err)
	}
	return &SNMPSession{S: gs, Target: target, version: gs.Version}, nil
}

func build(target string, sc *skvalp.SessionContext) (*gosnmp.GoSNMP, error) {
	gs := &gosnmp.GoSNMP{
		Target:    target,
		Port:      sc.Port,
		Transport: "udp",
		Timeout:   sc.Timeout,
		Retries:   sc.Retries,
		MaxOids:   gosnmp.MaxOids,
	}
	if gs.Port == 0 {
		gs.Port = skvalp.DefaultPort
	}
	switch sc.Version {
	case "1":
		gs.Version = gosnmp.Version1
		gs.Community = sc.Community
	case "2c":
		gs.Version = gosnmp.Version2c
		gs.Community = sc.Community
	case "3":
		if sc.User == nil {
			return nil, fmt.Errorf("snmp v3 requires a user")
		}
		gs.Version = gosnmp.Version3
		gs.SecurityModel = gosnmp.UserSecurityModel
		usm, flags, err := usmParameters(sc.User)
		if err != nil {
			return nil, err
		}
		gs.MsgFlags = flags
		gs.SecurityParameters = usm
	default:
		return nil, fmt.Errorf("unsupported snmp version %q", sc.Version)
	}
	return gs, nil
}

// Levels and protocols are matched case-insensitively.
var levels = map[string]gosnmp.SnmpV3MsgFlags{
	"noauthnopriv": gosnmp.NoAuthNoPriv,
	"authnopriv":   gosnmp.AuthNoPriv,
	"authpriv":     gosnmp.AuthPriv,
}

var authProtocols = map[string]gosnmp.SnmpV3AuthProtocol{
	"md5":    gosnmp.MD5,
	"sha":    gosnmp.SHA,
	"sha224": gosnmp.SHA224,
	"sha256": gosnmp.SHA256,
	"sha384": gosnmp.SHA384,
	"sha512": gosnmp.SHA512,
}

var privProtocols = map[string]gosnmp.SnmpV3PrivProtocol{
	"des":     gosnmp.DES,
	"aes":     gosnmp.AES,
	"aes192":  gosnmp.AES192,
	"aes256":  gosnmp.AES256,
	"aes256b": gosnmp.AES256,
	"aes192c": gosnmp.AES192C,
	"aes256c": gosnmp.AES256C,
	"aes256r": gosnmp.AES256C,
}

// ValidLevel, ValidAuthProtocol and ValidPrivProtocol let request
// validation reject credentials before any host is contacted.
func ValidLevel(s string) bool {
	_, ok := levels[strings.ToLower(s)]
	return ok
}

func ValidAuthProtocol(s string) bool {
	_, ok := authProtocols[strings.ToLower(s)]
	return ok
}

func ValidPrivProtocol(s string) bool {
	_, ok := privProtocols[strings.ToLower(s)]
	return ok
}

func usmParameters(u *skvalp.User) (*gosnmp.UsmSecurityParameters, gosnmp.SnmpV3MsgFlags, error) {
	usm := &gosnmp.UsmSecurityParameters{UserName: u.Name}
	flags := gosnmp.NoAuthNoPriv
	if u.Level != "" {
		f, ok := levels[strings.ToLower(u.Level)]
		if !ok {
			return nil, 0, fmt.Errorf("unknown security level %q", u.Level)
		}
		flags = f
	}
	if flags == gosnmp.NoAuthNoPriv {
		return usm, flags, nil
	}
	auth, ok := authProtocols[strings.ToLower(u.AuthProtocol)]
	if !ok {
		return nil, 0, fmt.Errorf("unknown auth protocol %q", u.AuthProtocol)
	}
	usm.AuthenticationProtocol = auth
	usm.AuthenticationPassphrase = u.AuthKey
	if flags == gosnmp.AuthNoPriv {
		return usm, flags, nil
	}
	priv, ok := privProtocols[strings.ToLower(u.PrivProtocol)]
	if !ok {
		return nil, 0, fmt.Errorf("unknown privacy protocol %q", u.PrivProtocol)
	}
	usm.PrivacyProtocol = priv
	usm.PrivacyPassphrase = u.PrivKey
	return usm, flags, nil
}

func (s *SNMPSession) Close() error {
	if s.S == nil || s.S.Conn == nil {
		return nil
	}
	return s.S.Conn.Close()
}

// Get uses a single SNMP GET for all oids, raising MaxOids if needed so
// gosnmp doesn't refuse the request.
func (s *SNMPSession) Get(oids []string) ([]skvalp.Varbind, error) {
	if len(oids) < 1 {
		return nil, fmt.Errorf("refusing to carry out GET for 0 oids")
	}
	q := make([]string, 0, len(oids))
	for _, o := range oids {
		q = append(q, "."+strings.TrimPrefix(o, "."))
	}
	if len(q) > s.S.MaxOids {
		s.S.MaxOids = len(q)
	}
	result, err := s.S.Get(q)
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	if result.Error != gosnmp.NoError {
		return nil, fmt.Errorf("response error: %s (index %d)", result.Error, result.ErrorIndex)
	}
	vbs := make([]skvalp.Varbind, 0, len(result.Variables))
	for _, pdu := range result.Variables {
		vbs = append(vbs, Convert(pdu))
	}
	skvalp.Debugf("%s - get for %d oids returned %d varbinds", s.Target, len(oids), len(vbs))
	return vbs, nil
}

// Walk drains the subtree below root. v1 has no GETBULK, so it falls back
// to GETNEXT.
func (s *SNMPSession) Walk(root string, maxRepetitions int, cb func(skvalp.Varbind) error) error {
	hits := 0
	misses := 0
	fn := func(pdu gosnmp.SnmpPDU) error {
		vb := Convert(pdu)
		if vb.Kind.IsError() {
			misses++
			return nil
		}
		hits++
		return cb(vb)
	}
	oid := "." + strings.TrimPrefix(root, ".")
	var err error
	if s.version == gosnmp.Version1 {
		err = s.S.Walk(oid, fn)
	} else {
		if maxRepetitions > 0 {
			s.S.MaxRepetitions = uint32(maxRepetitions)
		}
		err = s.S.BulkWalk(oid, fn)
	}
	if err != nil {
		return fmt.Errorf("walk of %s failed after %d varbinds: %w", root, hits, err)
	}
	skvalp.Debugf("%s - walk of %s done with %d hits and %d misses", s.Target, root, hits, misses)
	return nil
}
