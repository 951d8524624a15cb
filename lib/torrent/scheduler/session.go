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
	"fmt"
	"net"
	"time"

	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/conn"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/piecemanager"
)

// pipelineDepth is the number of block requests kept in flight per session.
const pipelineDepth = 5

// assignment is the single piece a session is currently downloading.
// Invariant: downloaded <= requested <= len(buf).
type assignment struct {
	index      int
	buf        []byte
	requested  int
	downloaded int
}

// session drives the peer wire protocol over one TCP connection. A single
// goroutine owns the socket; reads, state updates, and writes all happen
// serially, so no field needs locking.
type session struct {
	config      Config
	manager     *piecemanager.Manager
	mi          *core.MetaInfo
	localPeerID core.PeerID
	stats       tally.Scope
	logger      *zap.SugaredLogger

	// seed keeps the session alive after the torrent completes so it can
	// continue serving upload requests.
	seed bool

	nc          net.Conn
	peerBits    *bitset.BitSet
	peerChoking bool
	assignment  *assignment
}

func newSession(
	config Config,
	manager *piecemanager.Manager,
	localPeerID core.PeerID,
	seed bool,
	stats tally.Scope,
	logger *zap.SugaredLogger) *session {

	return &session{
		config:      config,
		manager:     manager,
		mi:          manager.Torrent().MetaInfo(),
		localPeerID: localPeerID,
		seed:        seed,
		stats:       stats,
		peerBits:    bitset.New(uint(manager.NumPieces())),
		peerChoking: true,
		logger:      logger,
	}
}

// Outbound dials addr, performs the handshake exchange, declares interest,
// and runs the event loop until a fatal error, stall, or torrent completion.
func (s *session) Outbound(addr string) error {
	nc, err := net.DialTimeout("tcp", addr, s.config.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("dial: %s", err)
	}
	s.nc = nc
	defer s.cleanup()

	if err := nc.SetDeadline(time.Now().Add(s.config.ConnectTimeout)); err != nil {
		return fmt.Errorf("set deadline: %s", err)
	}
	hs := &conn.Handshake{InfoHash: s.mi.InfoHash(), PeerID: s.localPeerID}
	if err := conn.SendHandshake(nc, hs); err != nil {
		return fmt.Errorf("send handshake: %s", err)
	}
	peerHS, err := conn.ReadHandshake(nc)
	if err != nil {
		return fmt.Errorf("read handshake: %s", err)
	}
	if peerHS.InfoHash != s.mi.InfoHash() {
		return errors.New("info hash mismatch")
	}
	s.logger = s.logger.With("remote_peer", peerHS.PeerID)

	if err := s.sendBitfield(); err != nil {
		return err
	}
	if err := s.send(conn.NewInterested()); err != nil {
		return err
	}
	return s.eventLoop()
}

// Inbound serves a connection opened by a remote peer: reads its handshake,
// replies, advertises our pieces, unchokes, and runs the same event loop.
// Used while seeding.
func (s *session) Inbound(nc net.Conn) error {
	s.nc = nc
	defer s.cleanup()

	if err := nc.SetDeadline(time.Now().Add(s.config.ConnectTimeout)); err != nil {
		return fmt.Errorf("set deadline: %s", err)
	}
	peerHS, err := conn.ReadHandshake(nc)
	if err != nil {
		return fmt.Errorf("read handshake: %s", err)
	}
	if peerHS.InfoHash != s.mi.InfoHash() {
		return errors.New("info hash mismatch")
	}
	s.logger = s.logger.With("remote_peer", peerHS.PeerID)

	hs := &conn.Handshake{InfoHash: s.mi.InfoHash(), PeerID: s.localPeerID}
	if err := conn.SendHandshake(nc, hs); err != nil {
		return fmt.Errorf("send handshake: %s", err)
	}
	if err := s.sendBitfield(); err != nil {
		return err
	}
	if err := s.send(conn.NewUnchoke()); err != nil {
		return err
	}
	return s.eventLoop()
}

// cleanup closes the socket and returns any in-flight assignment to the
// ledger. Runs unconditionally on session exit.
func (s *session) cleanup() {
	s.nc.Close()
	if s.assignment != nil {
		s.manager.ResetPiece(s.assignment.index)
		s.assignment = nil
	}
}

// eventLoop reads one message at a time, processes it, then tops up the
// request pipeline. The idle read deadline is the sole stall recovery: a
// choked session with an in-flight piece simply times out here.
func (s *session) eventLoop() error {
	for {
		if err := s.nc.SetReadDeadline(time.Now().Add(s.config.IdleTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %s", err)
		}
		msg, err := conn.ReadMessage(s.nc)
		if err != nil {
			return fmt.Errorf("read message: %s", err)
		}
		if err := s.handle(msg); err != nil {
			return err
		}
		if s.manager.IsComplete() && s.assignment == nil {
			// Nothing left to request; keep serving only if seeding keeps
			// the session alive via inbound requests.
			if done := s.maybeFinished(); done {
				return nil
			}
		}
		if err := s.requestWork(); err != nil {
			return err
		}
	}
}

// maybeFinished reports whether a download-only session should exit. Seeding
// sessions stay in the loop to serve requests.
func (s *session) maybeFinished() bool {
	return !s.seed
}

func (s *session) handle(msg *conn.Message) error {
	if msg == nil {
		// KeepAlive.
		return nil
	}
	switch msg.ID {
	case conn.MsgChoke:
		// In-flight pipelining is not aborted; the idle timeout recovers.
		s.peerChoking = true
	case conn.MsgUnchoke:
		s.peerChoking = false
	case conn.MsgInterested, conn.MsgNotInterested:
		// Recorded nowhere: upload eligibility ignores interest.
	case conn.MsgHave:
		index, err := msg.ParseHave()
		if err != nil {
			return err
		}
		if int(index) < s.mi.NumPieces() {
			s.peerBits.Set(uint(index))
		}
	case conn.MsgBitfield:
		s.peerBits = conn.UnpackBitfield(msg.Payload, s.mi.NumPieces())
	case conn.MsgRequest:
		return s.serveRequest(msg)
	case conn.MsgPiece:
		return s.receiveBlock(msg)
	default:
		return fmt.Errorf("unhandled message id %d", uint8(msg.ID))
	}
	return nil
}

// requestWork acquires a piece assignment if eligible and fills the request
// pipeline up to pipelineDepth blocks in flight.
func (s *session) requestWork() error {
	if s.peerChoking {
		return nil
	}
	if s.assignment == nil {
		i, ok := s.manager.PickNextPiece(s.peerBits)
		if !ok {
			return nil
		}
		s.assignment = &assignment{
			index: i,
			buf:   make([]byte, s.mi.GetPieceLength(i)),
		}
		s.logger.Debugf("Assigned piece %d", i)
	}
	a := s.assignment
	for a.requested < len(a.buf) && a.requested-a.downloaded < pipelineDepth*conn.BlockSize {
		length := conn.BlockSize
		if remaining := len(a.buf) - a.requested; remaining < length {
			length = remaining
		}
		req := conn.NewRequest(uint32(a.index), uint32(a.requested), uint32(length))
		if err := s.send(req); err != nil {
			return err
		}
		a.requested += length
	}
	return nil
}

// receiveBlock copies a Piece payload into the assignment buffer and, on the
// final block, verifies and commits the piece. Blocks for other indices or
// out-of-range offsets are silently dropped.
func (s *session) receiveBlock(msg *conn.Message) error {
	index, begin, block, err := msg.ParsePiece()
	if err != nil {
		return err
	}
	a := s.assignment
	if a == nil || int(index) != a.index || int(begin)+len(block) > len(a.buf) {
		s.stats.Counter("dropped_blocks").Inc(1)
		return nil
	}
	copy(a.buf[begin:], block)
	a.downloaded += len(block)
	if a.downloaded < len(a.buf) {
		return nil
	}

	s.assignment = nil
	expected, err := s.mi.GetPieceHash(a.index)
	if err != nil {
		return err
	}
	if core.NewPieceHashFromBytes(a.buf) != expected {
		s.logger.Infof("Piece %d failed hash verification, resetting", a.index)
		s.stats.Counter("hash_mismatches").Inc(1)
		s.manager.ResetPiece(a.index)
		return nil
	}
	if err := s.manager.CompletePiece(a.index, a.buf); err != nil {
		// The manager has already demoted the piece.
		s.logger.Errorf("Error committing piece %d: %s", a.index, err)
		return nil
	}
	s.logger.Debugf("Completed piece %d (%d/%d)",
		a.index, s.manager.NumComplete(), s.manager.NumPieces())
	return nil
}

// serveRequest answers an upload request for a complete piece. Requests for
// incomplete pieces or out-of-range blocks are dropped without a reply; only
// a socket write failure is fatal.
func (s *session) serveRequest(msg *conn.Message) error {
	index, begin, length, err := msg.ParseRequest()
	if err != nil {
		return err
	}
	data, err := s.manager.ReadCompletePiece(int(index))
	if err != nil {
		s.stats.Counter("rejected_requests").Inc(1)
		return nil
	}
	if int64(begin)+int64(length) > int64(len(data)) {
		s.stats.Counter("rejected_requests").Inc(1)
		return nil
	}
	s.stats.Counter("served_blocks").Inc(1)
	return s.send(conn.NewPiece(index, begin, data[begin:begin+length]))
}

func (s *session) send(msg *conn.Message) error {
	if err := s.nc.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %s", err)
	}
	if err := conn.SendMessage(s.nc, msg); err != nil {
		return fmt.Errorf("send %s: %s", msg, err)
	}
	return nil
}

func (s *session) sendBitfield() error {
	if s.manager.NumComplete() == 0 {
		return nil
	}
	return s.send(conn.NewBitfield(s.manager.Bitfield(), s.mi.NumPieces()))
}
