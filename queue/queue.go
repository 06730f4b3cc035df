/*
 * skvalp AMQP order intake
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
Package queue takes poll orders off an AMQP queue. An order wraps the same
request body the HTTP front end accepts:

	{"mode": "table", "id": "optional", "request": {...}}

Orders that can never succeed are rejected outright. Orders that fail
while polling are NACKed and requeued once, after a short random delay;
a redelivered order that fails again is dropped.
*/
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
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

type Mode int

const (
	Get   Mode = iota // flat GET per host
	Table             // walk per host
)

func (m *Mode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "get":
		*m = Get
	case "table", "walk":
		*m = Table
	default:
		return fmt.Errorf("invalid mode: %s", s)
	}
	return nil
}

func (m Mode) MarshalJSON() ([]byte, error) {
	switch m {
	case Get:
		return []byte("\"get\""), nil
	case Table:
		return []byte("\"table\""), nil
	default:
		return []byte("\"\""), fmt.Errorf("invalid mode %d", m)
	}
}

// Order is a single poll request as it travels over the queue. ID is
// not used for anything but logging.
type Order struct {
	Mode    Mode            `json:"mode"`
	ID      string          `json:"id,omitempty"`
	Request json.RawMessage `json:"request"`
}

func (o Order) String() string {
	if o.ID != "" {
		return o.ID
	}
	return "-"
}

// Consumer feeds orders from a channel of deliveries to a Poller.
type Consumer struct {
	Poller  Poller
	Workers int
	Queue   string

	// Delay is how long to wait before a NACK with requeue. Nil means
	// one to ten seconds, picked at random.
	Delay func() time.Duration
}

func (c *Consumer) delay() time.Duration {
	if c.Delay != nil {
		return c.Delay()
	}
	return time.Second + time.Second*time.Duration(rand.Intn(10))
}

// Declare is the queue both the consumer and publishers agree on.
func Declare(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,  // name
		false, // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

// Run connects to broker and consumes until ctx is done or the connection
// goes away.
func (c *Consumer) Run(ctx context.Context, broker string) error {
	amURL, err := url.Parse(broker)
	if err != nil {
		return fmt.Errorf("can't parse broker url: %w", err)
	}
	skvalp.Debugf("Connecting to broker: %v", amURL.Redacted())
	conn, err := amqp.Dial(broker)
	if err != nil {
		return fmt.Errorf("can't connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("can't get channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Qos(c.Workers+1, 0, false); err != nil {
		return fmt.Errorf("can't set qos: %w", err)
	}
	q, err := Declare(ch, c.Queue)
	if err != nil {
		return fmt.Errorf("can't declare queue: %w", err)
	}
	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("can't register consumer: %w", err)
	}
	skvalp.Logf("Listening for orders on %s", q.Name)
	return c.Serve(ctx, msgs)
}

// Serve hands deliveries to Workers listeners and returns when ctx is
// done or msgs is closed, once every listener is idle.
func (c *Consumer) Serve(ctx context.Context, msgs <-chan amqp.Delivery) error {
	workers := c.Workers
	if workers < 1 {
		workers = 1
	}
	work := make(chan amqp.Delivery)
	finished := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func(name string) {
			c.Listener(ctx, work, name)
			finished <- struct{}{}
		}(fmt.Sprintf("%d", i))
	}
	skvalp.Logf("Started %d workers", workers)
	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		case d, ok := <-msgs:
			if !ok {
				err = errors.New("delivery channel closed, connection probably dead")
				break loop
			}
			select {
			case work <- d:
			case <-ctx.Done():
				d.Nack(false, true)
				err = ctx.Err()
				break loop
			}
		}
	}
	close(work)
	for i := 0; i < workers; i++ {
		<-finished
	}
	return err
}

// Listener handles deliveries until c is closed.
func (c *Consumer) Listener(ctx context.Context, work <-chan amqp.Delivery, name string) {
	skvalp.Debugf("Starting listener %s...", name)
	for d := range work {
		c.Handle(ctx, d, name)
	}
}

// Handle runs a single delivery and acknowledges it.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery, name string) {
	log := skvalp.Logger().WithFields(logrus.Fields{"worker": name, "run": uuid.New().String()})
	now := time.Now()
	var o Order
	if err := json.Unmarshal(d.Body, &o); err != nil {
		log.Warnf("order json unmarshal: %s", err)
		reject(log, d)
		return
	}
	log = log.WithField("order", o.String())
	req, err := request.ParseBytes(o.Request)
	if err != nil {
		log.Warnf("invalid order: %s", err)
		reject(log, d)
		return
	}
	var n int
	switch o.Mode {
	case Get:
		_, n, err = c.Poller.PollGet(ctx, req)
	case Table:
		n, err = c.Poller.PollTable(ctx, req)
	}
	since := time.Since(now).Round(time.Millisecond * 10)
	if err != nil {
		var ve *skvalp.ValidationError
		if errors.As(err, &ve) {
			log.Warnf("invalid order: %s", err)
			reject(log, d)
			return
		}
		requeue := !d.Redelivered
		log.Infof("FAIL %s: %s (requeue: %v)", since, err, requeue)
		if requeue {
			dl := c.delay()
			log.Debugf("Sleeping %v before NACK/requeue", dl)
			time.Sleep(dl)
		}
		if err := d.Nack(false, requeue); err != nil {
			log.Warnf("NAck failed: %s", err)
		}
		return
	}
	log.Infof("OK %s, %d records", since, n)
	if err := d.Ack(false); err != nil {
		log.Warnf("Ack failed: %s", err)
	}
}

func reject(log *logrus.Entry, d amqp.Delivery) {
	if err := d.Reject(false); err != nil {
		log.Warnf("Reject failed: %s", err)
	}
}

// Publish sends one order to the queue.
func Publish(ctx context.Context, ch *amqp.Channel, queue string, body []byte) error {
	return ch.PublishWithContext(ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
}
