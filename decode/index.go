/*
 * skvalp table indexing
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

package decode

import (
	"strings"

	"github.com/telenornms/skvalp"
)

// Index derives the row key of a walked varbind: what's left of oid after
// f's root, optionally narrowed by f.IndexSlice.
func Index(oid string, f *skvalp.FieldSpec) string {
	root := f.Root()
	oid = strings.TrimPrefix(oid, ".")
	idx := oid
	if oid == root {
		// a leaf root walks as a single GET of itself
		idx = ""
	} else if strings.HasPrefix(oid, root+".") {
		idx = oid[len(root)+1:]
	}
	if len(f.IndexSlice) == 0 {
		return idx
	}
	parts := strings.Split(idx, ".")
	start := bound(f.IndexSlice[0], len(parts))
	end := len(parts)
	if len(f.IndexSlice) > 1 {
		end = bound(f.IndexSlice[1], len(parts))
	}
	if start >= end {
		return ""
	}
	return strings.Join(parts[start:end], ".")
}

// bound resolves a slice position; negative positions count from the end.
func bound(i, n int) int {
	if i < 0 {
		i += n
		if i < 0 {
			i = 0
		}
	}
	if i > n {
		i = n
	}
	return i
}
