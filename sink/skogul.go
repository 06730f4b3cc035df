/*
 * skvalp skogul sink
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

package sink

import (
	"fmt"
	"math"
	"time"

	"github.com/telenornms/skogul"
	sconfig "github.com/telenornms/skogul/config"
	"github.com/telenornms/skvalp/metrics"
	"github.com/telenornms/skvalp/record"
)

// Skogul hands each record to a skogul handler, which takes care of
// transformation and onward delivery.
type Skogul struct {
	Handler *skogul.Handler
	Name    string
}

// NewSkogul loads the skogul config at path and picks the named handler.
func NewSkogul(path string, handler string) (*Skogul, error) {
	conf, err := sconfig.Path(path)
	if err != nil {
		return nil, fmt.Errorf("skogul-config failed loading: %w", err)
	}
	h := conf.Handlers[handler]
	if h == nil {
		return nil, fmt.Errorf("missing %s handler in skogul config", handler)
	}
	return &Skogul{Handler: &h.Handler, Name: handler}, nil
}

func (s *Skogul) Send(r record.Record) {
	c := skogul.Container{}
	c.Metrics = append(c.Metrics, Metric(r))
	if err := s.Handler.TransformAndSend(&c); err != nil {
		failed("skogul", fmt.Errorf("handler %s: %w", s.Name, err))
		return
	}
	metrics.Records.WithLabelValues("skogul").Inc()
}

// Metric maps a record onto a skogul metric: tags and the static context
// become metadata, fields become data and pollertime becomes the
// timestamp.
func Metric(r record.Record) *skogul.Metric {
	m := skogul.Metric{
		Metadata: make(map[string]interface{}),
		Data:     make(map[string]interface{}),
	}
	for k, v := range r {
		switch k {
		case "tag":
			copyInto(m.Metadata, v)
		case "field":
			copyInto(m.Data, v)
		case "pollertime":
			if f, ok := v.(float64); ok {
				t := time.UnixMilli(int64(math.Round(f * 1000)))
				m.Time = &t
			}
		default:
			m.Metadata[k] = v
		}
	}
	if m.Time == nil {
		now := time.Now()
		m.Time = &now
	}
	return &m
}

func copyInto(dst map[string]interface{}, v interface{}) {
	src, ok := v.(map[string]interface{})
	if !ok {
		return
	}
	for k, v := range src {
		dst[k] = v
	}
}
