/*
 * skvalp config
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

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SendOption selects how finished records leave the process.
type SendOption string

const (
	SendTCP    SendOption = "tcp"
	SendUDP    SendOption = "udp"
	SendLog    SendOption = "log"
	SendSkogul SendOption = "skogul"
)

// SinkConfig is resolved once at startup and handed to every operation.
// It is a plain value; nothing modifies it after Config.Sink() returns.
type SinkConfig struct {
	Option        SendOption
	Host          string
	Port          int
	SkogulConfig  string // path to a skogul config, for SendSkogul
	SkogulHandler string // handler name within that config
}

// Address is host:port for the network sinks.
func (s SinkConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type sendConf struct {
	Option        SendOption `yaml:"option"`
	Host          string     `yaml:"host"`
	Port          int        `yaml:"port"`
	SkogulConfig  string     `yaml:"skogul_config"`
	SkogulHandler string     `yaml:"skogul_handler"`
}

type tlsConf struct {
	Certificate string `yaml:"certificate"`
	PrivateKey  string `yaml:"private_key"`
}

// Config is the process-level configuration. It is read from a YAML file
// and then overridden from the environment, so a deployment can run on
// environment variables alone.
type Config struct {
	Debug      bool     `yaml:"debug"`
	Listen     int      `yaml:"listen"`
	TLS        tlsConf  `yaml:"tls"`
	Send       sendConf `yaml:"send"`
	MibPaths   []string `yaml:"mib_paths"`
	MibModules []string `yaml:"mib_modules"`
	Broker     string   `yaml:"broker"` // AMQP url, blank disables queue intake
	Queue      string   `yaml:"queue"`
	Workers    int      `yaml:"workers"` // AMQP order listeners
}

// DefaultConfig returns the baseline that the file and environment
// override.
func DefaultConfig() Config {
	return Config{
		Send: sendConf{
			SkogulHandler: "skvalp",
		},
		Queue:   "skvalp",
		Workers: 4,
	}
}

// ParseConfig reads path (if it exists) and applies environment overrides.
func ParseConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("environment variable %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	var opt string
	str("SEND_OPTION", &opt)
	if opt != "" {
		c.Send.Option = SendOption(strings.ToLower(opt))
	}
	str("SEND_HOST", &c.Send.Host)
	if err := num("SEND_PORT", &c.Send.Port); err != nil {
		return err
	}
	if err := num("LISTEN_PORT", &c.Listen); err != nil {
		return err
	}
	str("PRIVATE_KEY_PATH", &c.TLS.PrivateKey)
	str("CERTIFICATE_PATH", &c.TLS.Certificate)
	str("SKOGUL_CONFIG", &c.Send.SkogulConfig)
	str("SKVALP_BROKER", &c.Broker)
	if v, ok := lookup("SKVALP_DEBUG"); ok {
		d, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("environment variable SKVALP_DEBUG: %w", err)
		}
		c.Debug = d
	}
	return nil
}

// Validate checks that everything needed to start is present.
func (c *Config) Validate() error {
	var missing []string
	if c.Listen == 0 {
		missing = append(missing, "LISTEN_PORT")
	}
	if c.TLS.Certificate == "" {
		missing = append(missing, "CERTIFICATE_PATH")
	}
	if c.TLS.PrivateKey == "" {
		missing = append(missing, "PRIVATE_KEY_PATH")
	}
	if c.Send.Option == "" {
		missing = append(missing, "SEND_OPTION")
	}
	switch c.Send.Option {
	case SendTCP, SendUDP:
		if c.Send.Host == "" {
			missing = append(missing, "SEND_HOST")
		}
		if c.Send.Port == 0 {
			missing = append(missing, "SEND_PORT")
		}
	case SendSkogul:
		if c.Send.SkogulConfig == "" {
			missing = append(missing, "SKOGUL_CONFIG")
		}
	case SendLog, "":
	default:
		return fmt.Errorf("send option must be one of tcp, udp, log or skogul, got %q", c.Send.Option)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	if c.Broker != "" && c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1 when a broker is configured")
	}
	return nil
}

// Sink returns the sink settings. Debug mode always logs instead of
// sending anything.
func (c *Config) Sink() SinkConfig {
	s := SinkConfig{
		Option:        c.Send.Option,
		Host:          c.Send.Host,
		Port:          c.Send.Port,
		SkogulConfig:  c.Send.SkogulConfig,
		SkogulHandler: c.Send.SkogulHandler,
	}
	if c.Debug {
		s.Option = SendLog
	}
	return s
}
