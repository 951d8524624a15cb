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
package metainfogen

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/riptide-p2p/riptide/core"
)

func testGenerator(pieceLength datasize.ByteSize) *Generator {
	return New(Config{
		PieceLengths: map[datasize.ByteSize]datasize.ByteSize{0: pieceLength},
	})
}

func TestGenerateSingleFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	content := []byte("0123456789")
	source := filepath.Join(dir, "blob.bin")
	require.NoError(os.WriteFile(source, content, 0644))

	b, err := testGenerator(4).Generate(source, "http://tracker/announce")
	require.NoError(err)

	mi, err := core.DeserializeMetaInfo(b)
	require.NoError(err)
	require.Equal("blob.bin", mi.Name())
	require.False(mi.MultiFile())
	require.Equal(int64(10), mi.TotalLength())
	require.Equal(3, mi.NumPieces())
	require.Equal("http://tracker/announce", mi.Announce)

	h, err := mi.GetPieceHash(2)
	require.NoError(err)
	require.Equal(core.PieceHash(sha1.Sum(content[8:])), h)
}

func TestGenerateDirectory(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	source := filepath.Join(dir, "album")
	require.NoError(os.MkdirAll(filepath.Join(source, "sub"), 0775))
	require.NoError(os.WriteFile(filepath.Join(source, "a"), []byte("aaaaa"), 0644))
	require.NoError(os.WriteFile(filepath.Join(source, "sub", "b"), []byte("bbbbbbb"), 0644))

	b, err := testGenerator(6).Generate(source, "http://tracker/announce")
	require.NoError(err)

	mi, err := core.DeserializeMetaInfo(b)
	require.NoError(err)
	require.Equal("album", mi.Name())
	require.True(mi.MultiFile())
	require.Equal(int64(12), mi.TotalLength())
	require.Equal([]core.FileInfo{
		{Length: 5, Path: []string{"a"}},
		{Length: 7, Path: []string{"sub", "b"}},
	}, mi.Info.Files)

	// Piece hashes cover the concatenated stream across file boundaries.
	h, err := mi.GetPieceHash(0)
	require.NoError(err)
	require.Equal(core.PieceHash(sha1.Sum([]byte("aaaaab"))), h)
}

func TestGenerateDeterministic(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	source := filepath.Join(dir, "album")
	require.NoError(os.MkdirAll(source, 0775))
	require.NoError(os.WriteFile(filepath.Join(source, "x"), []byte("xxx"), 0644))
	require.NoError(os.WriteFile(filepath.Join(source, "y"), []byte("yyy"), 0644))

	g := testGenerator(4)
	first, err := g.Generate(source, "http://tracker/announce")
	require.NoError(err)
	second, err := g.Generate(source, "http://tracker/announce")
	require.NoError(err)
	require.Equal(first, second)
}

func TestGenerateErrors(t *testing.T) {
	require := require.New(t)

	g := testGenerator(4)

	_, err := g.Generate(filepath.Join(t.TempDir(), "nonexistent"), "http://t/a")
	require.Error(err)

	empty := t.TempDir()
	_, err = g.Generate(empty, "http://t/a")
	require.Error(err)
}

func TestGenerateFileWritesTorrent(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	source := filepath.Join(dir, "blob.bin")
	require.NoError(os.WriteFile(source, []byte("data"), 0644))
	output := filepath.Join(dir, "blob.torrent")

	require.NoError(testGenerator(4).GenerateFile(source, "http://t/a", output))

	b, err := os.ReadFile(output)
	require.NoError(err)
	_, err = core.DeserializeMetaInfo(b)
	require.NoError(err)
}

func TestPieceLengthConfigRanges(t *testing.T) {
	require := require.New(t)

	c := newPieceLengthConfig(map[datasize.ByteSize]datasize.ByteSize{
		0:               256 * datasize.KB,
		2 * datasize.GB: 4 * datasize.MB,
		4 * datasize.GB: 8 * datasize.MB,
	})

	require.Equal(int64(256*datasize.KB), c.get(1))
	require.Equal(int64(256*datasize.KB), c.get(int64(datasize.GB)))
	require.Equal(int64(4*datasize.MB), c.get(int64(3*datasize.GB)))
	require.Equal(int64(8*datasize.MB), c.get(int64(5*datasize.GB)))
}
