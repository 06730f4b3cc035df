/*
 * skvalp smi-pain
 *
 * Copyright (c) 2022 Telenor Norge AS
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
Package smierte handles loading MIB modules and resolving symbolic OIDs
such as ifHCInOctets or sysName.0 into numeric ones. The name is a play on
SMI and smerte (pain), because this is such a painful process.

While this is based on gosmi, we should try to hide as much of that as
possible because it's not unlikely that it'll be switched.

Numeric OIDs never touch gosmi, so none of this needs to be initialized
for requests that only use numeric OIDs.
*/
package smierte

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sleepinggenius2/gosmi"
	"github.com/sleepinggenius2/gosmi/types"
	"github.com/telenornms/skvalp"
)

// Node is a resolved name.
type Node struct {
	Key     string // original input
	Name    string
	Numeric string // numeric OID, no leading dot, suffix included
}

// cache is an internal OID-cache for Nodes, to avoid expensive
// SMI-lookups for what is most likely very repetitive lookups. So far,
// extremely simple with no LRU or anything.
var cache sync.Map

var loaded atomic.Bool

var numeric = regexp.MustCompile(`^\.?[0-9]+(\.[0-9]+)*$`)

// symbolic matches name, optionally qualified by module, with an optional
// numeric suffix: IF-MIB::ifName.12
var symbolic = regexp.MustCompile(`^(?:([A-Za-z][A-Za-z0-9-]*)::)?([A-Za-z][A-Za-z0-9-]*)((?:\.[0-9]+)*)$`)

// Init loads MIB modules from paths. Calling it again adds modules.
func Init(modules []string, paths []string) error {
	gosmi.Init()
	for _, path := range paths {
		skvalp.Logf("mib path added: %s", path)
		gosmi.AppendPath(path)
	}
	for _, module := range modules {
		moduleName, err := gosmi.LoadModule(module)
		if err != nil {
			return fmt.Errorf("module load failed: %w", err)
		}
		skvalp.Debugf("Loaded SMI module %s", moduleName)
	}
	loaded.Store(true)
	return nil
}

// Exit unloads everything and drops the cache.
func Exit() {
	if loaded.Swap(false) {
		gosmi.Exit()
	}
	cache.Range(func(k, _ interface{}) bool {
		cache.Delete(k)
		return true
	})
}

// IsNumeric is true for OIDs that need no lookup.
func IsNumeric(item string) bool {
	return numeric.MatchString(item)
}

// Resolve returns the numeric form of item without a leading dot.
func Resolve(item string) (string, error) {
	if IsNumeric(item) {
		return strings.TrimPrefix(item, "."), nil
	}
	n, err := Lookup(item)
	if err != nil {
		return "", err
	}
	return n.Numeric, nil
}

// Lookup resolves a symbolic name through the loaded MIB modules.
func Lookup(item string) (Node, error) {
	if chit, ok := cache.Load(item); ok {
		return chit.(Node), nil
	}
	ret := Node{Key: item}
	if !loaded.Load() {
		return ret, fmt.Errorf("can't resolve %q: no MIB modules loaded", item)
	}
	m := symbolic.FindStringSubmatch(item)
	if m == nil {
		return ret, fmt.Errorf("can't parse %q as an OID or object name", item)
	}
	var n gosmi.SmiNode
	var err error
	if m[1] != "" {
		var mod gosmi.SmiModule
		mod, err = gosmi.GetModule(m[1])
		if err != nil {
			return ret, fmt.Errorf("unknown module %s: %w", m[1], err)
		}
		n, err = gosmi.GetNode(m[2], mod)
	} else {
		n, err = gosmi.GetNode(m[2])
	}
	if err != nil {
		return ret, fmt.Errorf("gosmi.GetNode failed: %w", err)
	}
	ret.Name = n.Render(types.RenderName)
	ret.Numeric = strings.TrimPrefix(n.RenderNumeric(), ".") + m[3]
	cache.Store(item, ret)
	return ret, nil
}
