/*
 * skvalp concurrency limiter
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

// Package limit bounds how many host sessions are open at once within one
// operation.
package limit

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limiter is a counting admission gate. Slots are handed out in the order
// they are asked for.
type Limiter struct {
	sem  *semaphore.Weighted
	size int
}

// New returns a Limiter with n slots. n must be at least 1.
func New(n int) (*Limiter, error) {
	if n < 1 {
		return nil, fmt.Errorf("limiter needs at least one slot, got %d", n)
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release returns a slot. Every successful Acquire needs exactly one.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Size is the number of slots.
func (l *Limiter) Size() int {
	return l.size
}
