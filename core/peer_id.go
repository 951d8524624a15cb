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
package core

import (
	"errors"
	"math/rand"
)

// peerIDPrefix identifies the client implementation and version in the
// Azureus convention.
const peerIDPrefix = "-RT0100-"

const peerIDCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// PeerID represents a fixed size peer id.
type PeerID [20]byte

// NewPeerID converts raw bytes to a PeerID.
func NewPeerID(b []byte) (PeerID, error) {
	if len(b) != 20 {
		return PeerID{}, errors.New("peer id has invalid length")
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// RandomPeerID generates a peer id with the client prefix followed by 12
// uniformly random alphanumeric characters.
func RandomPeerID() PeerID {
	var p PeerID
	copy(p[:], peerIDPrefix)
	for i := len(peerIDPrefix); i < len(p); i++ {
		p[i] = peerIDCharset[rand.Intn(len(peerIDCharset))]
	}
	return p
}

// Bytes converts p to raw bytes.
func (p PeerID) Bytes() []byte {
	return p[:]
}

func (p PeerID) String() string {
	return string(p[:])
}
