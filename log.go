/*
 * skvalp log-wrappers
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

package skvalp

/*
log.go is a thin wrapper around logrus, mainly so the rest of the code can
do regular calls to Logf and friends without caring about what sits
underneath. Skogul uses logrus too, so both end up in the same output.

Debug/Debugf check the level before formatting anything. This makes calls
to skvalp.Debugf() very fast when debugging is off, which means it is
unproblematic to add debug-logging in per-varbind code.
*/

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// callers is set in debug mode: every line then carries the file:line of
// whoever called the wrapper, not of the wrapper itself.
var callers bool

// Init sets up the logger. Call once, before anything is polled.
func Init(debug bool) {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	callers = debug
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// Logger exposes the underlying logger, e.g. for skogul or HTTP
// middleware.
func Logger() *logrus.Logger {
	return logger
}

// at returns a fresh entry. With callers on, it is tagged with the
// position skip frames above the function calling at.
func at(skip int) *logrus.Entry {
	e := logrus.NewEntry(logger)
	if !callers {
		return e
	}
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		e = e.WithField("caller", fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	return e
}

// WithHost returns an entry tagged with a target host.
func WithHost(host string) *logrus.Entry {
	return at(1).WithField("target", host)
}

func Log(v ...any) {
	at(1).Info(fmt.Sprint(v...))
}

func Logf(format string, v ...any) {
	at(1).Infof(format, v...)
}

func Logln(v ...any) {
	at(1).Infoln(v...)
}

func Warnf(format string, v ...any) {
	at(1).Warnf(format, v...)
}

func Fatal(v ...any) {
	at(1).Error(fmt.Sprint(v...))
	os.Exit(1)
}

func Fatalf(format string, v ...any) {
	at(1).Errorf(format, v...)
	os.Exit(1)
}

func Fatalln(v ...any) {
	at(1).Errorln(v...)
	os.Exit(1)
}

func Debug(v ...any) {
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		at(1).Debug(fmt.Sprint(v...))
	}
}

func Debugf(format string, v ...any) {
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		at(1).Debugf(format, v...)
	}
}

func Debugln(v ...any) {
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		at(1).Debugln(v...)
	}
}
