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
	"encoding/binary"
	"fmt"
	"io"
)

// BlockSize is the maximum block length requested on the wire.
const BlockSize = 16384

// Maximum supported frame size. Large enough for a full block payload or the
// bitfield of a very large torrent.
const maxMessageSize = 4 * 1024 * 1024

// MessageID identifies the type of a peer wire message.
type MessageID uint8

// Peer wire message ids.
const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not_interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	}
	return fmt.Sprintf("unknown(%d)", uint8(id))
}

// Message is a single framed peer wire message. A nil *Message denotes
// KeepAlive, which carries neither id nor payload.
type Message struct {
	ID      MessageID
	Payload []byte
}

// NewChoke returns a Choke message.
func NewChoke() *Message { return &Message{ID: MsgChoke} }

// NewUnchoke returns an Unchoke message.
func NewUnchoke() *Message { return &Message{ID: MsgUnchoke} }

// NewInterested returns an Interested message.
func NewInterested() *Message { return &Message{ID: MsgInterested} }

// NewNotInterested returns a NotInterested message.
func NewNotInterested() *Message { return &Message{ID: MsgNotInterested} }

// NewHave returns a Have message for piece index.
func NewHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: MsgHave, Payload: payload}
}

// NewRequest returns a Request message for a block.
func NewRequest(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{ID: MsgRequest, Payload: payload}
}

// NewPiece returns a Piece message carrying a block.
func NewPiece(index, begin uint32, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)
	return &Message{ID: MsgPiece, Payload: payload}
}

// ParseHave extracts the piece index of a Have message.
func (m *Message) ParseHave() (uint32, error) {
	if m.ID != MsgHave {
		return 0, fmt.Errorf("expected have message, got %s", m.ID)
	}
	return binary.BigEndian.Uint32(m.Payload), nil
}

// ParseRequest extracts the block coordinates of a Request message.
func (m *Message) ParseRequest() (index, begin, length uint32, err error) {
	if m.ID != MsgRequest {
		return 0, 0, 0, fmt.Errorf("expected request message, got %s", m.ID)
	}
	index = binary.BigEndian.Uint32(m.Payload[0:4])
	begin = binary.BigEndian.Uint32(m.Payload[4:8])
	length = binary.BigEndian.Uint32(m.Payload[8:12])
	return index, begin, length, nil
}

// ParsePiece extracts the block coordinates and data of a Piece message. The
// returned block aliases the message payload.
func (m *Message) ParsePiece() (index, begin uint32, block []byte, err error) {
	if m.ID != MsgPiece {
		return 0, 0, nil, fmt.Errorf("expected piece message, got %s", m.ID)
	}
	index = binary.BigEndian.Uint32(m.Payload[0:4])
	begin = binary.BigEndian.Uint32(m.Payload[4:8])
	return index, begin, m.Payload[8:], nil
}

// Serialize frames m as length-prefixed wire bytes. A nil m serializes as
// KeepAlive.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	buf := make([]byte, 4+1+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(m.Payload)))
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

func (m *Message) String() string {
	if m == nil {
		return "keep_alive"
	}
	return fmt.Sprintf("%s(%d bytes)", m.ID, len(m.Payload))
}

// SendMessage writes m to w.
func SendMessage(w io.Writer, m *Message) error {
	data := m.Serialize()
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return fmt.Errorf("write frame: %s", err)
		}
		data = data[n:]
	}
	return nil
}

// ReadMessage reads and validates a single framed message from r. Returns
// (nil, nil) for KeepAlive. Malformed frames and unknown ids are errors and
// fatal for the connection.
func ReadMessage(r io.Reader) (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %s", err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		// KeepAlive.
		return nil, nil
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("frame exceeds max size: %d > %d", length, maxMessageSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame: %s", err)
	}
	var payload []byte
	if length > 1 {
		payload = body[1:]
	}
	m := &Message{ID: MessageID(body[0]), Payload: payload}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Message) validate() error {
	switch m.ID {
	case MsgChoke, MsgUnchoke, MsgInterested, MsgNotInterested:
		return nil
	case MsgHave:
		if len(m.Payload) != 4 {
			return fmt.Errorf("have payload must be 4 bytes, got %d", len(m.Payload))
		}
	case MsgBitfield:
		// Any length is accepted; bits beyond the piece count are ignored.
	case MsgRequest:
		if len(m.Payload) != 12 {
			return fmt.Errorf("request payload must be 12 bytes, got %d", len(m.Payload))
		}
	case MsgPiece:
		if len(m.Payload) < 8 {
			return fmt.Errorf("piece payload must be at least 8 bytes, got %d", len(m.Payload))
		}
	default:
		return fmt.Errorf("unknown message id %d", uint8(m.ID))
	}
	return nil
}
