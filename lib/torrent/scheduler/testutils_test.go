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
	"net"
	"sync"
	"testing"

	"github.com/uber-go/tally"
	"github.com/willf/bitset"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/conn"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/piecemanager"
	"github.com/riptide-p2p/riptide/lib/torrent/storage"
	"github.com/riptide-p2p/riptide/utils/log"
)

func testConfig() Config {
	return Config{}.applyDefaults()
}

func newTestManager(t *testing.T, mi *core.MetaInfo) *piecemanager.Manager {
	m := piecemanager.New(storage.NewTorrent(mi, t.TempDir()), tally.NoopScope)
	if err := m.RestoreFromDisk(); err != nil {
		t.Fatal(err)
	}
	return m
}

// fakePeer is a scripted remote peer which serves piece data for a torrent
// over a loopback listener.
type fakePeer struct {
	mi     *core.MetaInfo
	stream []byte

	// corrupt holds piece indexes whose first served block is flipped,
	// forcing a hash mismatch on the session side.
	corrupt map[int]bool

	// dropAfter closes the connection after serving that many blocks.
	dropAfter int

	mu       sync.Mutex
	requests []int
}

func newFakePeer(mi *core.MetaInfo, stream []byte) *fakePeer {
	return &fakePeer{mi: mi, stream: stream, corrupt: make(map[int]bool)}
}

// start listens on an ephemeral loopback port and serves one connection.
func (p *fakePeer) start(t *testing.T) string {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		nc, err := l.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		p.serve(nc)
	}()
	return l.Addr().String()
}

func (p *fakePeer) serve(nc net.Conn) {
	if _, err := conn.ReadHandshake(nc); err != nil {
		return
	}
	reply := &conn.Handshake{InfoHash: p.mi.InfoHash(), PeerID: core.RandomPeerID()}
	if err := conn.SendHandshake(nc, reply); err != nil {
		return
	}

	all := bitset.New(uint(p.mi.NumPieces())).Complement()
	if err := conn.SendMessage(nc, conn.NewBitfield(all, p.mi.NumPieces())); err != nil {
		return
	}

	for {
		msg, err := conn.ReadMessage(nc)
		if err != nil {
			return
		}
		if msg == nil {
			continue
		}
		switch msg.ID {
		case conn.MsgInterested:
			if err := conn.SendMessage(nc, conn.NewUnchoke()); err != nil {
				return
			}
		case conn.MsgRequest:
			index, begin, length, err := msg.ParseRequest()
			if err != nil {
				return
			}
			if err := conn.SendMessage(nc, p.block(int(index), begin, length)); err != nil {
				return
			}
			if p.dropAfter > 0 && p.numRequests() >= p.dropAfter {
				return
			}
		}
	}
}

func (p *fakePeer) block(index int, begin, length uint32) *conn.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, index)

	start := p.mi.Info.PieceLength*int64(index) + int64(begin)
	data := make([]byte, length)
	copy(data, p.stream[start:start+int64(length)])
	if p.corrupt[index] {
		delete(p.corrupt, index)
		data[0] ^= 0xFF
	}
	return conn.NewPiece(uint32(index), begin, data)
}

func (p *fakePeer) numRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.requests)
}

func newTestSession(m *piecemanager.Manager, seed bool) *session {
	return newSession(
		testConfig(), m, core.RandomPeerID(), seed, tally.NoopScope, log.Default())
}
