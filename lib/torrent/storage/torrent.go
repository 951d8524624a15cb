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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/willf/bitset"

	"github.com/riptide-p2p/riptide/core"
)

// Torrent errors.
var (
	ErrInvalidPieceLength = errors.New("piece data has invalid length")
)

// Torrent performs piece-granularity reads and writes against the torrent's
// file layout. File handles are opened per operation and closed promptly.
// It carries no piece state; completion tracking belongs to the caller.
type Torrent struct {
	mi     *core.MetaInfo
	layout *Layout
}

// NewTorrent creates a Torrent for mi whose files live under dir.
func NewTorrent(mi *core.MetaInfo, dir string) *Torrent {
	return &Torrent{mi: mi, layout: NewLayout(mi, dir)}
}

// MetaInfo returns the metainfo backing t.
func (t *Torrent) MetaInfo() *core.MetaInfo {
	return t.mi
}

// Allocate creates every file of the layout and extends it to its declared
// length. Extension relies on the OS zero-filling the gap, so a subsequent
// Verify pass reads zeros rather than failing on a short file.
func (t *Torrent) Allocate() error {
	for _, entry := range t.layout.Entries() {
		if err := os.MkdirAll(filepath.Dir(entry.Path), 0775); err != nil {
			return fmt.Errorf("mkdir %s: %s", filepath.Dir(entry.Path), err)
		}
		f, err := os.OpenFile(entry.Path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %s", entry.Path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("stat %s: %s", entry.Path, err)
		}
		if info.Size() < entry.Length {
			if err := f.Truncate(entry.Length); err != nil {
				f.Close()
				return fmt.Errorf("truncate %s: %s", entry.Path, err)
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return fmt.Errorf("sync %s: %s", entry.Path, err)
			}
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %s", entry.Path, err)
		}
	}
	return nil
}

// WritePiece writes data to piece pi, spanning files as needed. Each file
// write is flushed to durable storage before WritePiece returns.
func (t *Torrent) WritePiece(pi int, data []byte) error {
	if int64(len(data)) != t.mi.GetPieceLength(pi) {
		return ErrInvalidPieceLength
	}
	for _, s := range t.layout.spans(pi) {
		if err := t.writeSpan(s, data); err != nil {
			return fmt.Errorf("piece %d: %s", pi, err)
		}
	}
	return nil
}

func (t *Torrent) writeSpan(s span, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0775); err != nil {
		return fmt.Errorf("mkdir %s: %s", filepath.Dir(s.path), err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %s", s.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(s.fileOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %s", s.path, err)
	}
	if _, err := f.Write(data[s.pieceOffset : s.pieceOffset+s.length]); err != nil {
		return fmt.Errorf("write %s: %s", s.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %s", s.path, err)
	}
	return nil
}

// ReadPiece reads piece pi from disk. Returns an error if any required file
// is missing or shorter than the span demands.
func (t *Torrent) ReadPiece(pi int) ([]byte, error) {
	size := t.mi.GetPieceLength(pi)
	if size == 0 {
		return nil, fmt.Errorf("invalid piece index %d: num pieces = %d", pi, t.mi.NumPieces())
	}
	data := make([]byte, size)
	for _, s := range t.layout.spans(pi) {
		if err := t.readSpan(s, data); err != nil {
			return nil, fmt.Errorf("piece %d: %s", pi, err)
		}
	}
	return data, nil
}

func (t *Torrent) readSpan(s span, data []byte) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open %s: %s", s.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(s.fileOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %s", s.path, err)
	}
	if _, err := io.ReadFull(f, data[s.pieceOffset:s.pieceOffset+s.length]); err != nil {
		return fmt.Errorf("read %s: %s", s.path, err)
	}
	return nil
}

// Verify reads every piece and compares it against its expected hash,
// returning a bitfield of the pieces already valid on disk. Unreadable or
// mismatching pieces are simply left unset.
func (t *Torrent) Verify() *bitset.BitSet {
	n := t.mi.NumPieces()
	valid := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		data, err := t.ReadPiece(i)
		if err != nil {
			continue
		}
		expected, err := t.mi.GetPieceHash(i)
		if err != nil {
			continue
		}
		if core.NewPieceHashFromBytes(data) == expected {
			valid.Set(uint(i))
		}
	}
	return valid
}
