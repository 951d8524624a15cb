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
	"errors"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/utils/log"
)

// stubPeerSource returns a fixed address list.
type stubPeerSource struct {
	addrs []string
}

func (s *stubPeerSource) GetPeers() ([]string, error) {
	return s.addrs, nil
}

// failingPeerSource always errors, simulating an unreachable tracker.
type failingPeerSource struct{}

func (s *failingPeerSource) GetPeers() ([]string, error) {
	return nil, errors.New("tracker unreachable")
}

func fastConfig() Config {
	return Config{
		AnnounceInterval: 50 * time.Millisecond,
		CompletionGrace:  time.Millisecond,
	}.applyDefaults()
}

func newTestScheduler(
	t *testing.T, mi *core.MetaInfo, addrs ...string) *Scheduler {

	m := newTestManager(t, mi)
	return New(
		fastConfig(), m, &stubPeerSource{addrs}, core.RandomPeerID(),
		clock.New(), tally.NoopScope, log.Default())
}

func waitForAddr(t *testing.T, s *Scheduler) string {
	for i := 0; i < 100; i++ {
		if addr := s.Addr(); addr != nil {
			return addr.String()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("seeding scheduler never started listening")
	return ""
}

func TestSchedulerLoopbackRoundTrip(t *testing.T) {
	require := require.New(t)

	stream := randomStream(100000)
	mi := core.SingleFileMetaInfoFixture("blob", stream, 40000)

	// Seeder holds the complete torrent.
	seedManager := newTestManager(t, mi)
	for i := 0; i < mi.NumPieces(); i++ {
		start := mi.Info.PieceLength * int64(i)
		require.NoError(seedManager.CompletePiece(i, stream[start:start+mi.GetPieceLength(i)]))
	}
	seeder := New(
		fastConfig(), seedManager, &stubPeerSource{}, core.RandomPeerID(),
		clock.New(), tally.NoopScope, log.Default())
	go seeder.Seed()
	defer seeder.Stop()

	addr := waitForAddr(t, seeder)

	// Leecher downloads over loopback and reproduces the stream exactly.
	leecher := newTestScheduler(t, mi, addr)
	require.NoError(leecher.Download())

	require.True(leecher.manager.IsComplete())
	for i := 0; i < mi.NumPieces(); i++ {
		data, err := leecher.manager.Torrent().ReadPiece(i)
		require.NoError(err)
		start := mi.Info.PieceLength * int64(i)
		require.Equal(stream[start:start+mi.GetPieceLength(i)], data)

		expected, err := mi.GetPieceHash(i)
		require.NoError(err)
		require.Equal(expected, core.NewPieceHashFromBytes(data))
	}
}

func TestSchedulerDownloadReturnsImmediatelyWhenComplete(t *testing.T) {
	require := require.New(t)

	stream := randomStream(16)
	mi := core.SingleFileMetaInfoFixture("blob", stream, 8)

	m := newTestManager(t, mi)
	for i := 0; i < mi.NumPieces(); i++ {
		start := mi.Info.PieceLength * int64(i)
		require.NoError(m.CompletePiece(i, stream[start:start+mi.GetPieceLength(i)]))
	}
	s := New(
		fastConfig(), m, &stubPeerSource{}, core.RandomPeerID(),
		clock.New(), tally.NoopScope, log.Default())

	done := make(chan error, 1)
	go func() { done <- s.Download() }()
	select {
	case err := <-done:
		require.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not exit after completion")
	}
}

func TestSchedulerSeedRequiresCompleteTorrent(t *testing.T) {
	require := require.New(t)

	mi := core.SingleFileMetaInfoFixture("blob", randomStream(16), 8)
	s := newTestScheduler(t, mi)

	require.Error(s.Seed())
}

func TestSchedulerToleratesAnnounceFailure(t *testing.T) {
	require := require.New(t)

	mi := core.SingleFileMetaInfoFixture("blob", randomStream(16), 8)
	m := newTestManager(t, mi)
	s := New(
		fastConfig(), m, &failingPeerSource{}, core.RandomPeerID(),
		clock.New(), tally.NoopScope, log.Default())

	done := make(chan error, 1)
	go func() { done <- s.Download() }()

	// The loop keeps running through announce failures until stopped.
	select {
	case err := <-done:
		t.Fatalf("download exited early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	s.Stop()
	require.NoError(<-done)
}
