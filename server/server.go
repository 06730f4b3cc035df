/*
 * skvalp HTTP front end
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
Package server is the HTTP front end. Requests are JSON bodies POSTed to
/snmp/get or /snmp/table; the response is sent once every host has been
polled, while the records themselves go to the configured sink.
*/
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/telenornms/skvalp"
	"github.com/telenornms/skvalp/engine"
	"github.com/telenornms/skvalp/request"
)

// Poller runs a validated request to completion.
type Poller interface {
	PollGet(ctx context.Context, req *skvalp.PollRequest) (engine.Outcomes, int, error)
	PollTable(ctx context.Context, req *skvalp.PollRequest) (int, error)
}

// Server routes requests to a Poller.
type Server struct {
	Poller Poller
	router *chi.Mux
}

type ctxKey struct{}

// New sets up the routes.
func New(p Poller) *Server {
	s := &Server{Poller: p}
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/snmp", func(r chi.Router) {
		r.Post("/get", s.get)
		r.Post("/table", s.table)
	})
	s.router = r
	return s
}

// Router exposes the handler, mostly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServeTLS blocks until ctx is done or the listener fails.
func (s *Server) ListenAndServeTLS(ctx context.Context, addr, cert, key string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- hs.ListenAndServeTLS(cert, key)
	}()
	skvalp.Logf("Listening on %s", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			return err
		}
		return nil
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func entry(r *http.Request) *logrus.Entry {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return skvalp.Logger().WithFields(logrus.Fields{"request": id, "path": r.URL.Path})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parse answers 400 itself and returns nil if the body is no good.
func parse(w http.ResponseWriter, r *http.Request) *skvalp.PollRequest {
	req, err := request.Parse(r.Body)
	if err != nil {
		entry(r).Warnf("rejected request: %s", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON format"})
		return nil
	}
	return req
}

func done(w http.ResponseWriter, r *http.Request, n int, start time.Time, err error) {
	log := entry(r)
	if err != nil {
		var ve *skvalp.ValidationError
		if errors.As(err, &ve) {
			log.Warnf("rejected request: %s", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON format"})
			return
		}
		log.Errorf("poll failed after %s: %s", time.Since(start).Round(time.Millisecond), err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	log.Infof("%d records in %s", n, time.Since(start).Round(time.Millisecond))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// The poll outlives a client that hangs up; records already reach the
// sink as they are built.
func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	req := parse(w, r)
	if req == nil {
		return
	}
	start := time.Now()
	_, n, err := s.Poller.PollGet(context.WithoutCancel(r.Context()), req)
	done(w, r, n, start, err)
}

func (s *Server) table(w http.ResponseWriter, r *http.Request) {
	req := parse(w, r)
	if req == nil {
		return
	}
	start := time.Now()
	n, err := s.Poller.PollTable(context.WithoutCancel(r.Context()), req)
	done(w, r, n, start, err)
}
