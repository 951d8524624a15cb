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

import "github.com/willf/bitset"

// PackBitfield packs the first numPieces bits of b into wire form: one bit
// per piece, MSB-first within each byte, zero-padded in the final byte.
func PackBitfield(b *bitset.BitSet, numPieces int) []byte {
	packed := make([]byte, (numPieces+7)/8)
	for i := 0; i < numPieces; i++ {
		if b.Test(uint(i)) {
			packed[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return packed
}

// UnpackBitfield converts a wire bitfield into a BitSet of numPieces bits.
// Bits beyond numPieces are ignored, as is a short payload's missing tail.
func UnpackBitfield(raw []byte, numPieces int) *bitset.BitSet {
	b := bitset.New(uint(numPieces))
	for i := 0; i < numPieces && i/8 < len(raw); i++ {
		if raw[i/8]&(0x80>>uint(i%8)) != 0 {
			b.Set(uint(i))
		}
	}
	return b
}

// NewBitfield returns a Bitfield message advertising the complete pieces
// in b.
func NewBitfield(b *bitset.BitSet, numPieces int) *Message {
	return &Message{ID: MsgBitfield, Payload: PackBitfield(b, numPieces)}
}
