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
	"path/filepath"

	"github.com/riptide-p2p/riptide/core"
)

// FileEntry is a single file of the on-disk layout.
type FileEntry struct {
	Path   string // Full path under the output root.
	Length int64
}

// Layout maps the torrent's contiguous piece-indexed byte stream onto the
// file list. Single-file torrents produce one entry at <dir>/<name>;
// multi-file torrents produce <dir>/<name>/<path components...> per file,
// preserving metainfo order.
type Layout struct {
	mi      *core.MetaInfo
	entries []FileEntry
}

// NewLayout derives the file layout for mi rooted at dir.
func NewLayout(mi *core.MetaInfo, dir string) *Layout {
	var entries []FileEntry
	if mi.MultiFile() {
		root := filepath.Join(dir, mi.Name())
		for _, f := range mi.Info.Files {
			parts := append([]string{root}, f.Path...)
			entries = append(entries, FileEntry{
				Path:   filepath.Join(parts...),
				Length: f.Length,
			})
		}
	} else {
		entries = []FileEntry{{
			Path:   filepath.Join(dir, mi.Name()),
			Length: mi.TotalLength(),
		}}
	}
	return &Layout{mi: mi, entries: entries}
}

// Entries returns the file entries in metainfo order.
func (l *Layout) Entries() []FileEntry {
	return l.entries
}

// span describes the portion of a piece which resides in a single file.
type span struct {
	path        string
	fileOffset  int64 // Seek offset within the file.
	pieceOffset int64 // Offset within the piece buffer.
	length      int64
}

// spans returns the file spans which piece pi touches, in stream order.
// A piece whose byte range crosses file boundaries yields one span per
// overlapped file.
func (l *Layout) spans(pi int) []span {
	p0 := l.mi.Info.PieceLength * int64(pi)
	p1 := p0 + l.mi.GetPieceLength(pi)

	var spans []span
	var f0 int64
	for _, entry := range l.entries {
		f1 := f0 + entry.Length
		if f1 > p0 && f0 < p1 {
			start := max64(f0, p0)
			end := min64(f1, p1)
			spans = append(spans, span{
				path:        entry.Path,
				fileOffset:  start - f0,
				pieceOffset: start - p0,
				length:      end - start,
			})
		}
		f0 = f1
	}
	return spans
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
