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
	"bytes"
	"errors"
	"fmt"

	"github.com/jackpal/bencode-go"
)

// pieceHashSize is the length of a single SHA1 piece hash within the
// concatenated "pieces" string.
const pieceHashSize = 20

// FileInfo describes a single file within a multi-file torrent. Path holds
// the ordered path components relative to the torrent's root directory.
type FileInfo struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// Info is the torrent info dictionary, primarily describing how the torrent
// data is broken up into pieces and how to verify those pieces. Exactly one
// of Length / Files is set, distinguishing single-file from multi-file mode.
type Info struct {
	Name        string     `bencode:"name"`
	PieceLength int64      `bencode:"piece length"`
	Pieces      string     `bencode:"pieces"`
	Length      int64      `bencode:"length"`
	Files       []FileInfo `bencode:"files"`
}

// MetaInfo contains torrent metadata parsed from a .torrent file.
type MetaInfo struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         Info       `bencode:"info"`

	infoHash   InfoHash
	multiFile  bool
	totalBytes int64
}

// DeserializeMetaInfo parses raw .torrent bytes. The info hash is computed
// over the canonical re-encoding of the parsed info dictionary, which is
// byte-for-byte identical to the original info segment for any well-formed
// source (bencode dictionaries are sorted by key).
func DeserializeMetaInfo(data []byte) (*MetaInfo, error) {
	var mi MetaInfo
	if err := bencode.Unmarshal(bytes.NewReader(data), &mi); err != nil {
		return nil, fmt.Errorf("bencode: %s", err)
	}

	decoded, err := bencode.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bencode: %s", err)
	}
	top, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, errors.New("top-level value is not a dictionary")
	}
	infoVal, ok := top["info"]
	if !ok {
		return nil, errors.New("missing info dictionary")
	}
	infoDict, ok := infoVal.(map[string]interface{})
	if !ok {
		return nil, errors.New("info is not a dictionary")
	}

	var b bytes.Buffer
	if err := bencode.Marshal(&b, infoVal); err != nil {
		return nil, fmt.Errorf("encode info: %s", err)
	}
	mi.infoHash = NewInfoHashFromBytes(b.Bytes())

	_, hasLength := infoDict["length"]
	_, hasFiles := infoDict["files"]
	if err := mi.validate(hasLength, hasFiles); err != nil {
		return nil, err
	}
	return &mi, nil
}

func (mi *MetaInfo) validate(hasLength, hasFiles bool) error {
	if hasLength == hasFiles {
		return errors.New("exactly one of length / files must be present")
	}
	mi.multiFile = hasFiles

	if mi.Info.Name == "" {
		return errors.New("missing name")
	}
	if mi.Info.PieceLength <= 0 {
		return fmt.Errorf("invalid piece length: %d", mi.Info.PieceLength)
	}
	if len(mi.Info.Pieces)%pieceHashSize != 0 {
		return fmt.Errorf("pieces length %d is not a multiple of %d", len(mi.Info.Pieces), pieceHashSize)
	}

	if mi.multiFile {
		for _, f := range mi.Info.Files {
			if f.Length < 0 {
				return fmt.Errorf("negative file length: %d", f.Length)
			}
			if len(f.Path) == 0 {
				return errors.New("file with empty path")
			}
			mi.totalBytes += f.Length
		}
	} else {
		if mi.Info.Length < 0 {
			return fmt.Errorf("negative length: %d", mi.Info.Length)
		}
		mi.totalBytes = mi.Info.Length
	}

	expected := (mi.totalBytes + mi.Info.PieceLength - 1) / mi.Info.PieceLength
	if expected != int64(mi.NumPieces()) {
		return fmt.Errorf(
			"piece count mismatch: total length %d with piece length %d implies %d pieces, got %d",
			mi.totalBytes, mi.Info.PieceLength, expected, mi.NumPieces())
	}
	return nil
}

// InfoHash returns the torrent InfoHash.
func (mi *MetaInfo) InfoHash() InfoHash {
	return mi.infoHash
}

// Name returns the suggested file name (single-file mode) or root directory
// name (multi-file mode).
func (mi *MetaInfo) Name() string {
	return mi.Info.Name
}

// MultiFile returns whether the torrent is in multi-file mode.
func (mi *MetaInfo) MultiFile() bool {
	return mi.multiFile
}

// TotalLength returns the total length of the torrent data, summed over all
// files in multi-file mode.
func (mi *MetaInfo) TotalLength() int64 {
	return mi.totalBytes
}

// NumPieces returns the number of pieces in the torrent.
func (mi *MetaInfo) NumPieces() int {
	return len(mi.Info.Pieces) / pieceHashSize
}

// GetPieceHash returns the expected hash of piece i.
func (mi *MetaInfo) GetPieceHash(i int) (PieceHash, error) {
	if i < 0 || i >= mi.NumPieces() {
		return PieceHash{}, fmt.Errorf("invalid piece index %d: num pieces = %d", i, mi.NumPieces())
	}
	var h PieceHash
	copy(h[:], mi.Info.Pieces[i*pieceHashSize:(i+1)*pieceHashSize])
	return h, nil
}

// GetPieceLength returns the length of piece i. The final piece carries the
// remainder of the total length and may be shorter than Info.PieceLength.
func (mi *MetaInfo) GetPieceLength(i int) int64 {
	n := mi.NumPieces()
	if i < 0 || i >= n {
		return 0
	}
	if i == n-1 {
		// Last piece.
		return mi.totalBytes - mi.Info.PieceLength*int64(i)
	}
	return mi.Info.PieceLength
}

// TrackerURLs returns all tracker URLs, primary announce first followed by
// announce-list tiers in order, deduplicated by exact string equality.
func (mi *MetaInfo) TrackerURLs() []string {
	urls := []string{mi.Announce}
	seen := map[string]bool{mi.Announce: true}
	for _, tier := range mi.AnnounceList {
		for _, url := range tier {
			if !seen[url] {
				seen[url] = true
				urls = append(urls, url)
			}
		}
	}
	return urls
}

func (mi *MetaInfo) String() string {
	return fmt.Sprintf("metainfo(name=%s, hash=%s, pieces=%d)",
		mi.Info.Name, mi.infoHash.Hex(), mi.NumPieces())
}
