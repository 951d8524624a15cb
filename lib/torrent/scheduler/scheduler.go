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

import (
	"fmt"
	"net"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/piecemanager"
)

// PeerSource returns fresh "host:port" addresses of peers in the swarm.
// Implemented by the tracker announce client.
type PeerSource interface {
	GetPeers() ([]string, error)
}

// Scheduler supervises peer sessions for a single torrent. It periodically
// refreshes the peer list, spawns sessions up to a concurrency cap, and
// terminates once the download completes. Sessions self-terminate and
// release their piece on exit; the scheduler never waits on them.
type Scheduler struct {
	config  Config
	manager *piecemanager.Manager
	peers   PeerSource
	peerID  core.PeerID
	clk     clock.Clock
	stats   tally.Scope
	logger  *zap.SugaredLogger

	mu       sync.Mutex // Protects active and listener.
	active   map[string]bool
	listener net.Listener

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Scheduler.
func New(
	config Config,
	manager *piecemanager.Manager,
	peers PeerSource,
	peerID core.PeerID,
	clk clock.Clock,
	stats tally.Scope,
	logger *zap.SugaredLogger) *Scheduler {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{
		"module": "scheduler",
	})
	return &Scheduler{
		config:  config,
		manager: manager,
		peers:   peers,
		peerID:  peerID,
		clk:     clk,
		stats:   stats,
		logger:  logger,
		active:  make(map[string]bool),
		done:    make(chan struct{}),
	}
}

// Download runs the supervision loop until every piece is complete, then
// lingers briefly so in-flight disk flushes retire.
func (s *Scheduler) Download() error {
	return s.run(false)
}

// Seed serves the torrent indefinitely: inbound connections are accepted on
// the configured listen port, and the announce loop keeps the tracker aware
// of this peer. Returns when Stop is called. If accepting fails, inbound
// connections stop but the announce loop keeps running.
func (s *Scheduler) Seed() error {
	if !s.manager.IsComplete() {
		return fmt.Errorf("cannot seed: %d/%d pieces complete",
			s.manager.NumComplete(), s.manager.NumPieces())
	}
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.ListenPort))
	if err != nil {
		return fmt.Errorf("listen: %s", err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.logger.Infof("Seeding on %s", l.Addr())
	go s.listenLoop(l)
	return s.run(true)
}

// Addr returns the seeding listener address, or nil if not seeding.
func (s *Scheduler) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts down the supervision loop and listener.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

func (s *Scheduler) run(seed bool) error {
	for {
		if !seed && s.manager.IsComplete() {
			s.logger.Infof("Download complete: %d pieces", s.manager.NumPieces())
			s.clk.Sleep(s.config.CompletionGrace)
			return nil
		}

		addrs, err := s.peers.GetPeers()
		if err != nil {
			// Soft failure; try again next cycle.
			s.logger.Warnf("Error refreshing peers: %s", err)
			s.stats.Counter("announce_errors").Inc(1)
		}
		seen := make(map[string]bool, len(addrs))
		for _, addr := range addrs {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			s.maybeSpawn(addr, seed)
		}

		select {
		case <-s.done:
			return nil
		case <-s.clk.After(s.config.AnnounceInterval):
		}
	}
}

// maybeSpawn starts a session for addr unless the session cap is reached or
// a session to addr is already alive.
func (s *Scheduler) maybeSpawn(addr string, seed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active) >= s.config.MaxSessions || s.active[addr] {
		return
	}
	s.active[addr] = true
	s.stats.Counter("sessions_spawned").Inc(1)

	go func() {
		defer s.release(addr)
		sess := newSession(
			s.config, s.manager, s.peerID, seed, s.stats, s.logger.With("addr", addr))
		if err := sess.Outbound(addr); err != nil {
			s.logger.With("addr", addr).Infof("Session ended: %s", err)
			s.stats.Counter("session_errors").Inc(1)
		}
	}()
}

func (s *Scheduler) release(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, addr)
}

// listenLoop accepts inbound peer connections while seeding.
func (s *Scheduler) listenLoop(l net.Listener) {
	for {
		nc, err := l.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Infof("Error accepting conn, exiting listen loop: %s", err)
			}
			return
		}
		s.stats.Counter("inbound_conns").Inc(1)
		go func() {
			sess := newSession(
				s.config, s.manager, s.peerID, true, s.stats,
				s.logger.With("addr", nc.RemoteAddr().String()))
			if err := sess.Inbound(nc); err != nil {
				s.logger.Infof("Inbound session ended: %s", err)
			}
		}()
	}
}
