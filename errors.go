/*
 * skvalp errors
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

package skvalp

import "fmt"

// ValidationError is a request that can't be run as given.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request: %s", e.Msg)
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Msg)
}

// SessionCreationError means no session could be set up for a host. It is
// fatal for that host only.
type SessionCreationError struct {
	Host string
	Err  error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("session creation for %s failed: %s", e.Host, e.Err)
}

func (e *SessionCreationError) Unwrap() error {
	return e.Err
}

// ProtocolError is a request that failed after the session exhausted its
// retries, or that the agent answered with an error status.
type ProtocolError struct {
	Host string
	Err  error
}

func (e *ProtocolError) Error() string {
	return e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
