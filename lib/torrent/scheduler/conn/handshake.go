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
package conn

import (
	"fmt"
	"io"

	"github.com/riptide-p2p/riptide/core"
)

const protocolName = "BitTorrent protocol"

// HandshakeLength is the fixed length of the protocol prologue.
const HandshakeLength = 49 + len(protocolName)

// Handshake is the 68-byte protocol prologue establishing that both sides
// speak BitTorrent and agree on the info hash. Reserved bytes are sent as
// zero and ignored on receipt.
type Handshake struct {
	InfoHash core.InfoHash
	PeerID   core.PeerID
}

// Serialize converts h to its fixed wire form.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, HandshakeLength)
	buf[0] = byte(len(protocolName))
	copy(buf[1:], protocolName)
	// buf[20:28] reserved, zero.
	copy(buf[28:48], h.InfoHash.Bytes())
	copy(buf[48:68], h.PeerID.Bytes())
	return buf
}

// SendHandshake writes h to w.
func SendHandshake(w io.Writer, h *Handshake) error {
	if _, err := w.Write(h.Serialize()); err != nil {
		return fmt.Errorf("write handshake: %s", err)
	}
	return nil
}

// ReadHandshake reads and validates the remote side's handshake.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	buf := make([]byte, HandshakeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read handshake: %s", err)
	}
	if buf[0] != byte(len(protocolName)) || string(buf[1:20]) != protocolName {
		return nil, fmt.Errorf("unexpected protocol string %q", buf[:20])
	}
	var h Handshake
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])
	return &h, nil
}
