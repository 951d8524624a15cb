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
package announceclient

import "time"

// Config is the announce client configuration.
type Config struct {

	// Timeout bounds a single announce request.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of backoff retries per tracker before
	// falling through to the next one.
	MaxRetries uint64 `yaml:"max_retries"`

	// Port is the port reported to the tracker for inbound connections.
	Port int `yaml:"port"`
}

func (c Config) applyDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.Port == 0 {
		c.Port = 6881
	}
	return c
}
