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
	"sort"

	"github.com/c2h5oh/datasize"
)

// Config defines Generator configuration.
type Config struct {
	PieceLengths map[datasize.ByteSize]datasize.ByteSize `yaml:"piece_lengths"`
}

func (c Config) applyDefaults() Config {
	if len(c.PieceLengths) == 0 {
		c.PieceLengths = map[datasize.ByteSize]datasize.ByteSize{
			0: 256 * datasize.KB,
		}
	}
	return c
}

type rangeConfig struct {
	totalSize   int64
	pieceLength int64
}

// pieceLengthConfig represents a sorted list joining torrent size to piece
// length for all torrents under said size, for example, these ranges:
//
//   [
//     (0, 256kb),
//     (2gb, 4mb),
//     (4gb, 8mb),
//   ]
//
// are interpreted as:
//
//   N < 2gb           : 256kb
//   N >= 2gb, N < 4gb : 4mb
//   N >= 4gb          : 8mb
//
type pieceLengthConfig struct {
	ranges []rangeConfig
}

func newPieceLengthConfig(
	pieceLengthByTotalSize map[datasize.ByteSize]datasize.ByteSize) *pieceLengthConfig {

	var ranges []rangeConfig
	for totalSize, pieceLength := range pieceLengthByTotalSize {
		ranges = append(ranges, rangeConfig{
			totalSize:   int64(totalSize),
			pieceLength: int64(pieceLength),
		})
	}
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].totalSize < ranges[j].totalSize
	})
	return &pieceLengthConfig{ranges}
}

func (c *pieceLengthConfig) get(totalSize int64) int64 {
	pieceLength := c.ranges[0].pieceLength
	for _, r := range c.ranges {
		if totalSize < r.totalSize {
			break
		}
		pieceLength = r.pieceLength
	}
	return pieceLength
}
