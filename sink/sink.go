/*
 * skvalp sinks
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
Package sink delivers finished records.

Every record is serialized as one self-contained JSON object. The tcp sink
opens a fresh connection per record and closes it after writing; there is
no framing, the connection is the record boundary. The udp sink sends one
datagram per record. The log sink writes one JSON line per record. The
skogul sink hands records to a skogul handler as metrics.

Delivery is fire-and-forget: failures are logged and counted, never
returned to the caller and never retried.
*/
package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/telenornms/skvalp"
	"github.com/telenornms/skvalp/metrics"
	"github.com/telenornms/skvalp/record"
)

// Sink receives one record at a time. Send must be safe for concurrent
// use.
type Sink interface {
	Send(r record.Record)
}

// DialTimeout bounds how long the tcp sink waits for a connection.
var DialTimeout = 2 * time.Second

// New builds the sink selected by c.
func New(c skvalp.SinkConfig) (Sink, error) {
	switch c.Option {
	case skvalp.SendTCP:
		return &TCP{Address: c.Address()}, nil
	case skvalp.SendUDP:
		return &UDP{Address: c.Address()}, nil
	case skvalp.SendLog:
		return &Log{Out: os.Stdout}, nil
	case skvalp.SendSkogul:
		return NewSkogul(c.SkogulConfig, c.SkogulHandler)
	}
	return nil, fmt.Errorf("send option must be one of tcp, udp, log or skogul, got %q", c.Option)
}

// Encode serializes r the way every sink puts it on the wire: compact
// JSON, no trailing newline, no HTML escaping.
func Encode(r record.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func failed(name string, err error) {
	metrics.SinkFailures.WithLabelValues(name).Inc()
	skvalp.Logf("%s sink: %s", name, err)
}

// TCP opens a connection per record.
type TCP struct {
	Address string
}

func (t *TCP) Send(r record.Record) {
	b, err := Encode(r)
	if err != nil {
		failed("tcp", err)
		return
	}
	conn, err := net.DialTimeout("tcp", t.Address, DialTimeout)
	if err != nil {
		failed("tcp", fmt.Errorf("connecting to %s: %w", t.Address, err))
		return
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(DialTimeout))
	if _, err := conn.Write(b); err != nil {
		failed("tcp", fmt.Errorf("writing to %s: %w", t.Address, err))
		return
	}
	metrics.Records.WithLabelValues("tcp").Inc()
}

// UDP sends a datagram per record.
type UDP struct {
	Address string
}

func (u *UDP) Send(r record.Record) {
	b, err := Encode(r)
	if err != nil {
		failed("udp", err)
		return
	}
	conn, err := net.Dial("udp", u.Address)
	if err != nil {
		failed("udp", fmt.Errorf("resolving %s: %w", u.Address, err))
		return
	}
	defer conn.Close()
	if _, err := conn.Write(b); err != nil {
		failed("udp", fmt.Errorf("sending to %s: %w", u.Address, err))
		return
	}
	skvalp.Debugf("udp sink: sent %d bytes to %s", len(b), u.Address)
	metrics.Records.WithLabelValues("udp").Inc()
}

// Log writes one JSON line per record.
type Log struct {
	Out io.Writer
	mu  sync.Mutex
}

func (l *Log) Send(r record.Record) {
	b, err := Encode(r)
	if err != nil {
		failed("log", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.Out.Write(append(b, '\n')); err != nil {
		failed("log", err)
		return
	}
	metrics.Records.WithLabelValues("log").Inc()
}
