// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package scheduler

import "time"

// Config is the scheduler configuration.
type Config struct {

	// ConnectTimeout bounds dialing a peer plus the handshake exchange.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// IdleTimeout bounds each blocking read on an established connection.
	// An idle peer is disconnected and its piece released.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// WriteTimeout bounds each message write on an established connection.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// AnnounceInterval is the delay between tracker refreshes.
	AnnounceInterval time.Duration `yaml:"announce_interval"`

	// MaxSessions caps the number of concurrent peer sessions.
	MaxSessions int `yaml:"max_sessions"`

	// CompletionGrace is how long the supervisor lingers after the download
	// completes, letting in-flight disk flushes retire.
	CompletionGrace time.Duration `yaml:"completion_grace"`

	// ListenPort is the TCP port for inbound peer connections while seeding.
	// Zero selects an ephemeral port.
	ListenPort int `yaml:"listen_port"`
}

func (c Config) applyDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 3 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = 10 * time.Second
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 20
	}
	if c.CompletionGrace == 0 {
		c.CompletionGrace = 2 * time.Second
	}
	return c
}
