/*
 * skvalp documentation-dummy
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
Package skvalp polls large amounts of network devices over SNMP and
forwards one structured record per host or table row to a sink.

A poll request names a set of hosts, a list of field specifications and
the SNMP credentials to use. The engine sub-package fans the request out
to one worker per host, bounded by a concurrency limit, decodes every
varbind through the decode sub-package and writes each finished record to
a sink (tcp, udp, log or a skogul handler) as soon as it is built.

Requests arrive over HTTPS (the server sub-package) or from an AMQP queue
(the queue sub-package). Both accept the same JSON body.
*/
package skvalp
