/*
 * skvalp daemon
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

// skvalp polls SNMP agents on request. Requests arrive over HTTPS and,
// if a broker is configured, over AMQP; results go to the configured sink.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/telenornms/skvalp"
	"github.com/telenornms/skvalp/engine"
	"github.com/telenornms/skvalp/queue"
	"github.com/telenornms/skvalp/server"
	"github.com/telenornms/skvalp/sink"
	"github.com/telenornms/skvalp/smierte"
)

func main() {
	var configFile string
	var debug bool
	flag.BoolVar(&debug, "debug", false, "enable debug, records are logged instead of sent")
	flag.StringVar(&configFile, "f", "/etc/skvalp/skvalp.yaml", "config file, environment overrides it")
	flag.Parse()
	cfg, err := skvalp.ParseConfig(configFile)
	if err != nil {
		skvalp.Fatalf("Couldn't parse config: %s", err)
	}
	cfg.Debug = cfg.Debug || debug
	skvalp.Init(cfg.Debug)
	skvalp.Debugf("Read config file: %s", configFile)

	if len(cfg.MibModules) > 0 {
		if err := smierte.Init(cfg.MibModules, cfg.MibPaths); err != nil {
			skvalp.Fatalf("failed to load mibs: %s", err)
		}
		defer smierte.Exit()
	}

	sc := cfg.Sink()
	out, err := sink.New(sc)
	if err != nil {
		skvalp.Fatalf("Couldn't set up %s sink: %s", sc.Option, err)
	}
	e := engine.New(out)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Broker != "" {
		c := &queue.Consumer{Poller: e, Workers: cfg.Workers, Queue: cfg.Queue}
		go func() {
			if err := c.Run(ctx, cfg.Broker); err != nil && ctx.Err() == nil {
				skvalp.Logf("queue intake stopped: %s", err)
				stop()
			}
		}()
	}

	s := server.New(e)
	if err := s.ListenAndServeTLS(ctx, fmt.Sprintf(":%d", cfg.Listen), cfg.TLS.Certificate, cfg.TLS.PrivateKey); err != nil {
		skvalp.Fatalf("server failed: %s", err)
	}
	skvalp.Logf("Shutting down")
}
