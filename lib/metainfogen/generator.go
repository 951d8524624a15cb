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
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackpal/bencode-go"

	"github.com/riptide-p2p/riptide/core"
)

// Generator wraps static piece length configuration in order to
// deterministically generate metainfo from local files.
type Generator struct {
	pieceLengthConfig *pieceLengthConfig
}

// New creates a new Generator.
func New(config Config) *Generator {
	config = config.applyDefaults()
	return &Generator{newPieceLengthConfig(config.PieceLengths)}
}

// Generate scans source (a file or a directory), hashes its content in
// piece-length chunks across file boundaries, and returns the bencoded
// .torrent bytes announcing to announce. Directory scans are sorted so the
// generated metainfo is deterministic.
func (g *Generator) Generate(source, announce string) ([]byte, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("stat source: %s", err)
	}

	var paths []string
	if info.IsDir() {
		err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk source: %s", err)
		}
		sort.Strings(paths)
		if len(paths) == 0 {
			return nil, fmt.Errorf("source directory %s contains no files", source)
		}
	} else {
		paths = []string{source}
	}

	var totalSize int64
	lengths := make([]int64, len(paths))
	for i, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %s", path, err)
		}
		lengths[i] = fi.Size()
		totalSize += fi.Size()
	}

	pieceLength := g.pieceLengthConfig.get(totalSize)
	pieces, err := hashPieces(paths, pieceLength)
	if err != nil {
		return nil, err
	}

	infoDict := map[string]interface{}{
		"name":         filepath.Base(source),
		"piece length": pieceLength,
		"pieces":       pieces,
	}
	if info.IsDir() {
		var entries []interface{}
		for i, path := range paths {
			rel, err := filepath.Rel(source, path)
			if err != nil {
				return nil, fmt.Errorf("relativize %s: %s", path, err)
			}
			var components []interface{}
			for _, c := range strings.Split(filepath.ToSlash(rel), "/") {
				components = append(components, c)
			}
			entries = append(entries, map[string]interface{}{
				"length": lengths[i],
				"path":   components,
			})
		}
		infoDict["files"] = entries
	} else {
		infoDict["length"] = totalSize
	}

	var b bytes.Buffer
	err = bencode.Marshal(&b, map[string]interface{}{
		"announce": announce,
		"info":     infoDict,
	})
	if err != nil {
		return nil, fmt.Errorf("encode metainfo: %s", err)
	}

	// Round-trip through the parser so invalid output can never escape.
	if _, err := core.DeserializeMetaInfo(b.Bytes()); err != nil {
		return nil, fmt.Errorf("validate metainfo: %s", err)
	}
	return b.Bytes(), nil
}

// GenerateFile writes the generated .torrent to output.
func (g *Generator) GenerateFile(source, announce, output string) error {
	b, err := g.Generate(source, announce)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, b, 0644); err != nil {
		return fmt.Errorf("write torrent file: %s", err)
	}
	return nil
}

// hashPieces hashes the concatenation of paths in pieceLength chunks,
// returning the concatenated piece hashes.
func hashPieces(paths []string, pieceLength int64) (string, error) {
	readers := make([]io.Reader, 0, len(paths))
	closers := make([]io.Closer, 0, len(paths))
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open %s: %s", path, err)
		}
		readers = append(readers, f)
		closers = append(closers, f)
	}
	stream := io.MultiReader(readers...)

	var pieces []byte
	for {
		h := sha1.New()
		n, err := io.CopyN(h, stream, pieceLength)
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read stream: %s", err)
		}
		if n == 0 {
			break
		}
		pieces = append(pieces, h.Sum(nil)...)
		if n < pieceLength {
			break
		}
	}
	return string(pieces), nil
}
