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
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/schollz/progressbar/v3"
	"github.com/uber-go/tally"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/metainfogen"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/piecemanager"
	"github.com/riptide-p2p/riptide/lib/torrent/storage"
	"github.com/riptide-p2p/riptide/metrics"
	"github.com/riptide-p2p/riptide/tracker/announceclient"
	"github.com/riptide-p2p/riptide/utils/log"
)

func main() {
	mode := flag.String("mode", "download", "one of: download, seed, create")
	torrentFile := flag.String("torrent", "", "path to the .torrent file (download / seed)")
	source := flag.String("source", "", "file or directory to create a torrent from (create)")
	announce := flag.String("announce", "", "tracker announce url (create)")
	output := flag.String("output", "", "output .torrent path (create)")
	configFile := flag.String("config", "", "configuration file path")
	flag.Parse()

	config, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %s", err)
	}

	zlog := log.ConfigureLogger(config.ZapLogging)
	defer zlog.Sync()

	stats, closer, err := metrics.New(config.Metrics)
	if err != nil {
		log.Fatalf("Failed to init metrics: %s", err)
	}
	defer closer.Close()

	switch *mode {
	case "create":
		runCreate(config, *source, *announce, *output)
	case "download":
		runTorrent(config, stats, *torrentFile, false)
	case "seed":
		runTorrent(config, stats, *torrentFile, true)
	default:
		log.Fatalf("Unknown mode %q", *mode)
	}
}

func runCreate(config Config, source, announce, output string) {
	if source == "" || announce == "" {
		log.Fatal("Create mode requires -source and -announce")
	}
	if output == "" {
		output = source + ".torrent"
	}
	g := metainfogen.New(config.Metainfogen)
	if err := g.GenerateFile(source, announce, output); err != nil {
		log.Fatalf("Failed to create torrent: %s", err)
	}
	log.Infof("Created %s", output)
}

func runTorrent(config Config, stats tally.Scope, torrentFile string, seed bool) {
	if torrentFile == "" {
		log.Fatal("Must specify -torrent")
	}
	data, err := os.ReadFile(torrentFile)
	if err != nil {
		log.Fatalf("Failed to read torrent file: %s", err)
	}
	mi, err := core.DeserializeMetaInfo(data)
	if err != nil {
		log.Fatalf("Failed to parse torrent file: %s", err)
	}
	log.Infof("Loaded %s", mi)

	peerID := core.RandomPeerID()
	manager := piecemanager.New(storage.NewTorrent(mi, config.DownloadDir), stats)

	log.Info("Verifying existing data...")
	if err := manager.RestoreFromDisk(); err != nil {
		log.Fatalf("Failed to restore torrent state: %s", err)
	}
	log.Infof("%d/%d pieces already complete", manager.NumComplete(), manager.NumPieces())

	announcer := announceclient.New(config.Tracker, mi, peerID)
	sched := scheduler.New(
		config.Scheduler, manager, announcer, peerID, clock.New(), stats, log.Default())

	if seed {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigc
			log.Info("Shutting down...")
			sched.Stop()
		}()
		if err := sched.Seed(); err != nil {
			log.Fatalf("Seed error: %s", err)
		}
		return
	}

	done := make(chan struct{})
	go trackProgress(manager, done)
	if err := sched.Download(); err != nil {
		log.Fatalf("Download error: %s", err)
	}
	close(done)
	log.Infof("Download complete: %s", mi.Name())
}

// trackProgress renders a piece-granularity progress bar until the download
// completes.
func trackProgress(manager *piecemanager.Manager, done <-chan struct{}) {
	bar := progressbar.NewOptions(manager.NumPieces(),
		progressbar.OptionSetDescription("pieces"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	for {
		select {
		case <-done:
			bar.Finish()
			return
		case <-time.After(250 * time.Millisecond):
			bar.Set(manager.NumComplete())
		}
	}
}
