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
package piecemanager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/atomic"

	"github.com/riptide-p2p/riptide/lib/torrent/storage"
)

// Manager errors.
var (
	ErrPieceNotComplete = errors.New("piece not complete")
)

// Status enumerates the ledger states of a piece.
type Status int

const (
	// StatusPending denotes a piece no session is working on.
	StatusPending Status = iota

	// StatusInProgress denotes a piece assigned to exactly one session.
	StatusInProgress

	// StatusComplete denotes a verified piece durably written to disk.
	StatusComplete
)

// Manager is the single owner of the piece ledger, shared by all peer
// sessions. Every transition happens under one exclusive lock, which also
// serializes piece writes so a piece only becomes visible as complete once
// its bytes are durable.
type Manager struct {
	mu       sync.Mutex
	torrent  *storage.Torrent
	statuses []Status
	stats    tally.Scope

	// Bumped under mu but read lock-free by progress reporting.
	numComplete *atomic.Int32
}

// New creates a Manager with every piece pending.
func New(torrent *storage.Torrent, stats tally.Scope) *Manager {
	stats = stats.Tagged(map[string]string{
		"module": "piecemanager",
	})
	return &Manager{
		torrent:     torrent,
		statuses:    make([]Status, torrent.MetaInfo().NumPieces()),
		stats:       stats,
		numComplete: atomic.NewInt32(0),
	}
}

// RestoreFromDisk pre-allocates the torrent's files and promotes every piece
// already valid on disk to complete. Runs exactly once, before any peer
// session starts.
func (m *Manager) RestoreFromDisk() error {
	if err := m.torrent.Allocate(); err != nil {
		return fmt.Errorf("allocate: %s", err)
	}
	valid := m.torrent.Verify()

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.statuses {
		if valid.Test(uint(i)) {
			m.statuses[i] = StatusComplete
			m.numComplete.Inc()
		}
	}
	m.stats.Counter("pieces_restored").Inc(int64(m.numComplete.Load()))
	return nil
}

// PickNextPiece returns the first pending piece the peer has, transitioning
// it to in-progress before returning. Selection is strictly by ascending
// index; rarest-first is a possible future policy.
func (m *Manager) PickNextPiece(peerBitfield *bitset.BitSet) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, status := range m.statuses {
		if status == StatusPending && peerBitfield.Test(uint(i)) {
			m.statuses[i] = StatusInProgress
			return i, true
		}
	}
	return 0, false
}

// MarkPieceComplete transitions piece i to complete. Idempotent; the
// completion counter is only bumped on the first transition.
func (m *Manager) MarkPieceComplete(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.markPieceComplete(i)
}

func (m *Manager) markPieceComplete(i int) {
	if m.statuses[i] != StatusComplete {
		m.statuses[i] = StatusComplete
		m.numComplete.Inc()
		m.stats.Counter("pieces_completed").Inc(1)
	}
}

// ResetPiece returns a non-complete piece to pending. Called whenever a
// session abandons or fails a piece.
func (m *Manager) ResetPiece(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statuses[i] != StatusComplete {
		m.statuses[i] = StatusPending
		m.stats.Counter("piece_resets").Inc(1)
	}
}

// CompletePiece writes verified piece data to disk and, once the write has
// returned, marks the piece complete. Both steps happen under the ledger
// lock so an upload can never observe a complete piece whose bytes are not
// yet durable. A write failure demotes the piece back to pending.
func (m *Manager) CompletePiece(i int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statuses[i] == StatusComplete {
		return nil
	}
	if err := m.torrent.WritePiece(i, data); err != nil {
		m.statuses[i] = StatusPending
		m.stats.Counter("piece_write_errors").Inc(1)
		return fmt.Errorf("write piece: %s", err)
	}
	m.markPieceComplete(i)
	return nil
}

// ReadCompletePiece reads piece i from disk for serving an upload. Only
// complete pieces may be read.
func (m *Manager) ReadCompletePiece(i int) ([]byte, error) {
	m.mu.Lock()
	if i < 0 || i >= len(m.statuses) || m.statuses[i] != StatusComplete {
		m.mu.Unlock()
		return nil, ErrPieceNotComplete
	}
	m.mu.Unlock()

	// The piece cannot leave the complete state, so reading outside the
	// lock is safe and keeps disk reads from serializing completions.
	return m.torrent.ReadPiece(i)
}

// IsComplete returns true once every piece is complete.
func (m *Manager) IsComplete() bool {
	return int(m.numComplete.Load()) == len(m.statuses)
}

// NumComplete returns the number of complete pieces.
func (m *Manager) NumComplete() int {
	return int(m.numComplete.Load())
}

// NumPieces returns the total number of pieces.
func (m *Manager) NumPieces() int {
	return len(m.statuses)
}

// Bitfield returns the bitfield of complete pieces.
func (m *Manager) Bitfield() *bitset.BitSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := bitset.New(uint(len(m.statuses)))
	for i, status := range m.statuses {
		if status == StatusComplete {
			b.Set(uint(i))
		}
	}
	return b
}

// Torrent returns the underlying piece I/O layer.
func (m *Manager) Torrent() *storage.Torrent {
	return m.torrent
}
