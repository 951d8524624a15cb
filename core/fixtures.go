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
	"crypto/sha1"

	"github.com/jackpal/bencode-go"
)

// FileFixture pairs a file path with its content for building multi-file
// metainfo fixtures.
type FileFixture struct {
	Path    []string
	Content []byte
}

// PeerIDFixture returns a randomly generated PeerID.
func PeerIDFixture() PeerID {
	return RandomPeerID()
}

// SingleFileMetaInfoFixture builds a valid single-file MetaInfo whose piece
// hashes match content.
func SingleFileMetaInfoFixture(name string, content []byte, pieceLength int64) *MetaInfo {
	info := map[string]interface{}{
		"name":         name,
		"piece length": pieceLength,
		"pieces":       hashPieces(content, pieceLength),
		"length":       int64(len(content)),
	}
	return metaInfoFixture(info)
}

// MultiFileMetaInfoFixture builds a valid multi-file MetaInfo whose piece
// hashes match the concatenation of the file contents in order.
func MultiFileMetaInfoFixture(name string, files []FileFixture, pieceLength int64) *MetaInfo {
	var stream []byte
	var entries []interface{}
	for _, f := range files {
		stream = append(stream, f.Content...)
		var path []interface{}
		for _, p := range f.Path {
			path = append(path, p)
		}
		entries = append(entries, map[string]interface{}{
			"length": int64(len(f.Content)),
			"path":   path,
		})
	}
	info := map[string]interface{}{
		"name":         name,
		"piece length": pieceLength,
		"pieces":       hashPieces(stream, pieceLength),
		"files":        entries,
	}
	return metaInfoFixture(info)
}

func metaInfoFixture(info map[string]interface{}) *MetaInfo {
	top := map[string]interface{}{
		"announce": "http://localhost:7001/announce",
		"info":     info,
	}
	var b bytes.Buffer
	if err := bencode.Marshal(&b, top); err != nil {
		panic(err)
	}
	mi, err := DeserializeMetaInfo(b.Bytes())
	if err != nil {
		panic(err)
	}
	return mi
}

func hashPieces(stream []byte, pieceLength int64) string {
	var pieces []byte
	for start := int64(0); start < int64(len(stream)); start += pieceLength {
		end := start + pieceLength
		if end > int64(len(stream)) {
			end = int64(len(stream))
		}
		sum := sha1.Sum(stream[start:end])
		pieces = append(pieces, sum[:]...)
	}
	return string(pieces)
}
