/*
 * skvalp request decoding
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
Package request turns the JSON body shared by the HTTP and AMQP front ends
into a validated skvalp.PollRequest, filling in defaults on the way.

Unknown keys are rejected, as are regex fields whose map doesn't line up
with the capture groups, and v3 requests with unusable credentials.
*/
package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/telenornms/skvalp"
	"github.com/telenornms/skvalp/session"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Options are the session settings of a request.
type Options struct {
	Version string `json:"version" validate:"required,oneof=1 2c 3"`
	Retries *int   `json:"retries,omitempty" validate:"omitempty,min=0"`
	Timeout *int   `json:"timeout,omitempty" validate:"omitempty,min=1"` // milliseconds
	Port    *int   `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

// User is the v3 credential set. Everything is required, even for
// noAuthNoPriv.
type User struct {
	Name         string `json:"name" validate:"required"`
	Level        string `json:"level" validate:"required"`
	AuthProtocol string `json:"authProtocol" validate:"required"`
	PrivProtocol string `json:"privProtocol" validate:"required"`
	PrivKey      string `json:"privKey" validate:"required"`
	AuthKey      string `json:"authKey" validate:"required"`
}

// OID is a field specification as it appears on the wire.
type OID struct {
	OID        string        `json:"oid" validate:"required"`
	Name       string        `json:"name" validate:"required"`
	Type       string        `json:"type,omitempty" validate:"omitempty,oneof=hex regex"`
	Conversion string        `json:"conversion,omitempty" validate:"omitempty,oneof=ipv4 number"`
	Tag        *bool         `json:"tag,omitempty"`
	IndexSlice []int         `json:"index_slice,omitempty" validate:"omitempty,min=1,max=2"`
	Regex      string        `json:"regex,omitempty" validate:"required_if=Type regex"`
	Map        []string      `json:"map,omitempty" validate:"required_if=Type regex"`
	Split      *skvalp.Split `json:"split,omitempty"`
}

// Inherited only allows the basics; its tag defaults to true.
type Inherited struct {
	OID  string `json:"oid" validate:"required"`
	Name string `json:"name" validate:"required"`
	Tag  *bool  `json:"tag,omitempty"`
}

// Body is the full request.
type Body struct {
	Hosts          []string               `json:"hosts" validate:"required,min=1,dive,required"`
	Community      string                 `json:"community,omitempty"`
	MaxRepetitions *int                   `json:"maxRepetitions,omitempty" validate:"omitempty,min=1"`
	Measurement    string                 `json:"measurement" validate:"required"`
	Options        *Options               `json:"options" validate:"required"`
	User           *User                  `json:"user,omitempty"`
	Oids           []OID                  `json:"oids" validate:"required,dive"`
	MaxConnections *int                   `json:"maxConnections,omitempty" validate:"omitempty,min=1"`
	Inherited      []Inherited            `json:"inherited,omitempty" validate:"omitempty,dive"`
	ExtraInfo      map[string]interface{} `json:"extraInfo,omitempty"`
}

// Parse reads and validates a request body.
func Parse(r io.Reader) (*skvalp.PollRequest, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var b Body
	if err := dec.Decode(&b); err != nil {
		return nil, &skvalp.ValidationError{Msg: fmt.Sprintf("malformed json: %s", err)}
	}
	if dec.More() {
		return nil, &skvalp.ValidationError{Msg: "trailing data after request object"}
	}
	return b.Request()
}

// ParseBytes is Parse for a byte slice.
func ParseBytes(b []byte) (*skvalp.PollRequest, error) {
	return Parse(bytes.NewReader(b))
}

// Validate checks b without converting it.
func (b *Body) Validate() error {
	if err := validate.Struct(b); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return &skvalp.ValidationError{Field: fieldPath(e), Msg: message(e)}
		}
		return &skvalp.ValidationError{Msg: err.Error()}
	}
	switch b.Options.Version {
	case "1", "2c":
		if b.Community == "" {
			return &skvalp.ValidationError{Field: "community", Msg: "required for version " + b.Options.Version}
		}
	case "3":
		if b.User == nil {
			return &skvalp.ValidationError{Field: "user", Msg: "required for version 3"}
		}
		if !session.ValidLevel(b.User.Level) {
			return &skvalp.ValidationError{Field: "user.level", Msg: fmt.Sprintf("unknown security level %q", b.User.Level)}
		}
		if !strings.EqualFold(b.User.Level, "noAuthNoPriv") && !session.ValidAuthProtocol(b.User.AuthProtocol) {
			return &skvalp.ValidationError{Field: "user.authProtocol", Msg: fmt.Sprintf("unknown auth protocol %q", b.User.AuthProtocol)}
		}
		if strings.EqualFold(b.User.Level, "authPriv") && !session.ValidPrivProtocol(b.User.PrivProtocol) {
			return &skvalp.ValidationError{Field: "user.privProtocol", Msg: fmt.Sprintf("unknown privacy protocol %q", b.User.PrivProtocol)}
		}
	}
	return nil
}

// Request validates b and converts it, applying defaults.
func (b *Body) Request() (*skvalp.PollRequest, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	req := &skvalp.PollRequest{
		Hosts:          b.Hosts,
		Measurement:    b.Measurement,
		MaxRepetitions: intOr(b.MaxRepetitions, skvalp.DefaultMaxRepetitions),
		MaxConnections: intOr(b.MaxConnections, skvalp.DefaultMaxConnections),
		ExtraInfo:      b.ExtraInfo,
		Session: skvalp.SessionContext{
			Version: b.Options.Version,
			Retries: intOr(b.Options.Retries, skvalp.DefaultRetries),
			Port:    uint16(intOr(b.Options.Port, skvalp.DefaultPort)),
			Timeout: skvalp.DefaultTimeout,
		},
	}
	if b.Options.Timeout != nil {
		req.Session.Timeout = time.Duration(*b.Options.Timeout) * time.Millisecond
	}
	if b.Options.Version == "3" {
		req.Session.User = &skvalp.User{
			Name:         b.User.Name,
			Level:        b.User.Level,
			AuthProtocol: b.User.AuthProtocol,
			AuthKey:      b.User.AuthKey,
			PrivProtocol: b.User.PrivProtocol,
			PrivKey:      b.User.PrivKey,
		}
	} else {
		req.Session.Community = b.Community
	}
	for _, o := range b.Oids {
		f := skvalp.FieldSpec{
			OID:        o.OID,
			Name:       o.Name,
			Tag:        o.Tag != nil && *o.Tag,
			Type:       skvalp.Interpretation(o.Type),
			Conversion: skvalp.Conversion(o.Conversion),
			Regex:      o.Regex,
			Map:        o.Map,
			Split:      o.Split,
			IndexSlice: o.IndexSlice,
		}
		if err := f.Compile(); err != nil {
			return nil, err
		}
		req.Fields = append(req.Fields, f)
	}
	for _, o := range b.Inherited {
		req.Inherited = append(req.Inherited, skvalp.FieldSpec{
			OID:  o.OID,
			Name: o.Name,
			Tag:  o.Tag == nil || *o.Tag,
		})
	}
	return req, nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// fieldPath drops the struct name: "Body.oids[0].name" -> "oids[0].name".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	}
	return fmt.Sprintf("failed %s validation", e.Tag())
}
