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
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/riptide-p2p/riptide/lib/metainfogen"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler"
	"github.com/riptide-p2p/riptide/metrics"
	"github.com/riptide-p2p/riptide/tracker/announceclient"
)

// Config defines client configuration.
type Config struct {
	ZapLogging  zap.Config            `yaml:"zap"`
	Metrics     metrics.Config        `yaml:"metrics"`
	Scheduler   scheduler.Config      `yaml:"scheduler"`
	Tracker     announceclient.Config `yaml:"tracker"`
	Metainfogen metainfogen.Config    `yaml:"metainfogen"`

	// DownloadDir is the output root for downloaded torrents.
	DownloadDir string `yaml:"download_dir"`
}

func (c Config) applyDefaults() Config {
	if c.DownloadDir == "" {
		c.DownloadDir = "downloads"
	}
	return c
}

// loadConfig reads a yaml config from path, or returns defaults when path is
// empty.
func loadConfig(path string) (Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %s", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("parse config: %s", err)
		}
	}
	return config.applyDefaults(), nil
}
