/*
 * skvalp pdu conversion
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

package session

import (
	"strings"

	"github.com/gosnmp/gosnmp"
	"github.com/telenornms/skvalp"
)

var kinds = map[gosnmp.Asn1BER]skvalp.Kind{
	gosnmp.Boolean:          skvalp.KindBoolean,
	gosnmp.Integer:          skvalp.KindInteger,
	gosnmp.BitString:        skvalp.KindBitString,
	gosnmp.OctetString:      skvalp.KindOctetString,
	gosnmp.Null:             skvalp.KindNull,
	gosnmp.ObjectIdentifier: skvalp.KindObjectIdentifier,
	gosnmp.IPAddress:        skvalp.KindIPAddress,
	gosnmp.Counter32:        skvalp.KindCounter32,
	gosnmp.Gauge32:          skvalp.KindGauge32,
	gosnmp.TimeTicks:        skvalp.KindTimeTicks,
	gosnmp.Opaque:           skvalp.KindOpaque,
	gosnmp.Counter64:        skvalp.KindCounter64,
	gosnmp.Uinteger32:       skvalp.KindUinteger32,
	gosnmp.OpaqueFloat:      skvalp.KindOpaqueFloat,
	gosnmp.OpaqueDouble:     skvalp.KindOpaqueDouble,
	gosnmp.NoSuchObject:     skvalp.KindNoSuchObject,
	gosnmp.NoSuchInstance:   skvalp.KindNoSuchInstance,
	gosnmp.EndOfMibView:     skvalp.KindEndOfMibView,
}

// Convert maps a gosnmp PDU onto a Varbind. Unknown types become
// KindUnknown and keep their value untouched.
func Convert(pdu gosnmp.SnmpPDU) skvalp.Varbind {
	k, ok := kinds[pdu.Type]
	if !ok {
		k = skvalp.KindUnknown
	}
	return skvalp.Varbind{
		OID:   strings.TrimPrefix(pdu.Name, "."),
		Kind:  k,
		Value: pdu.Value,
	}
}
