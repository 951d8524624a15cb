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
package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riptide-p2p/riptide/core"
)

func pieceData(mi *core.MetaInfo, stream []byte, pi int) []byte {
	start := mi.Info.PieceLength * int64(pi)
	return stream[start : start+mi.GetPieceLength(pi)]
}

func TestTorrentAllocateExtendsFiles(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	mi := core.MultiFileMetaInfoFixture("root", []core.FileFixture{
		{Path: []string{"a"}, Content: make([]byte, 5)},
		{Path: []string{"sub", "b"}, Content: make([]byte, 7)},
	}, 6)
	tor := NewTorrent(mi, dir)

	require.NoError(tor.Allocate())

	info, err := os.Stat(filepath.Join(dir, "root", "a"))
	require.NoError(err)
	require.Equal(int64(5), info.Size())

	info, err = os.Stat(filepath.Join(dir, "root", "sub", "b"))
	require.NoError(err)
	require.Equal(int64(7), info.Size())

	// Idempotent.
	require.NoError(tor.Allocate())
}

func TestTorrentWriteReadPieceRoundTrip(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	stream := []byte("aaaaabbbbbbbcccc") // a=5, b=7, c=4
	mi := core.MultiFileMetaInfoFixture("root", []core.FileFixture{
		{Path: []string{"a"}, Content: stream[:5]},
		{Path: []string{"b"}, Content: stream[5:12]},
		{Path: []string{"c"}, Content: stream[12:]},
	}, 6)
	tor := NewTorrent(mi, dir)
	require.NoError(tor.Allocate())

	// Write pieces out of order to exercise seeks.
	for _, pi := range []int{2, 0, 1} {
		require.NoError(tor.WritePiece(pi, pieceData(mi, stream, pi)))
	}
	for pi := 0; pi < mi.NumPieces(); pi++ {
		data, err := tor.ReadPiece(pi)
		require.NoError(err)
		require.Equal(pieceData(mi, stream, pi), data)
	}

	// File contents match the original stream.
	a, err := os.ReadFile(filepath.Join(dir, "root", "a"))
	require.NoError(err)
	require.Equal(stream[:5], a)
	b, err := os.ReadFile(filepath.Join(dir, "root", "b"))
	require.NoError(err)
	require.Equal(stream[5:12], b)
}

func TestTorrentWritePieceRejectsWrongLength(t *testing.T) {
	require := require.New(t)

	mi := core.SingleFileMetaInfoFixture("blob", []byte("0123456789"), 4)
	tor := NewTorrent(mi, t.TempDir())

	require.Equal(ErrInvalidPieceLength, tor.WritePiece(0, []byte("xy")))
	require.Equal(ErrInvalidPieceLength, tor.WritePiece(2, []byte("wxyz")))
}

func TestTorrentReadPieceMissingFile(t *testing.T) {
	require := require.New(t)

	mi := core.SingleFileMetaInfoFixture("blob", []byte("0123456789"), 4)
	tor := NewTorrent(mi, t.TempDir())

	_, err := tor.ReadPiece(0)
	require.Error(err)
}

func TestTorrentVerifyPartialData(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	stream := []byte("0123456789")
	mi := core.SingleFileMetaInfoFixture("blob", stream, 4)
	tor := NewTorrent(mi, dir)
	require.NoError(tor.Allocate())

	// Pre-fill all but the last piece with correct data.
	require.NoError(tor.WritePiece(0, pieceData(mi, stream, 0)))
	require.NoError(tor.WritePiece(1, pieceData(mi, stream, 1)))

	valid := tor.Verify()
	require.True(valid.Test(0))
	require.True(valid.Test(1))
	require.False(valid.Test(2))
	require.Equal(uint(2), valid.Count())
}

func TestTorrentVerifyEmptyDisk(t *testing.T) {
	require := require.New(t)

	mi := core.SingleFileMetaInfoFixture("blob", []byte("0123456789"), 4)
	tor := NewTorrent(mi, t.TempDir())

	require.Equal(uint(0), tor.Verify().Count())
}
