/*
 * skvalp SMIerte tests
 *
 * Copyright (c) 2023 Telenor Norge AS
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

package smierte_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/telenornms/skvalp/smierte"
)

func TestNumericPassesThrough(t *testing.T) {
	o, err := smierte.Resolve(".1.3.6.1.2.1.1.5.0")
	assert.NoError(t, err)
	assert.Equal(t, "1.3.6.1.2.1.1.5.0", o)
	assert.True(t, smierte.IsNumeric("1.3.6"))
	assert.False(t, smierte.IsNumeric("sysName.0"))
	assert.False(t, smierte.IsNumeric("1..3"))
}

func TestSymbolicWithoutModules(t *testing.T) {
	smierte.Exit()
	_, err := smierte.Resolve("sysName.0")
	assert.Error(t, err)
}
