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
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfoHashHexRoundTrip(t *testing.T) {
	require := require.New(t)

	h := NewInfoHashFromBytes([]byte("some info dict"))
	require.Equal(InfoHash(sha1.Sum([]byte("some info dict"))), h)

	parsed, err := NewInfoHashFromHex(h.Hex())
	require.NoError(err)
	require.Equal(h, parsed)
}

func TestNewInfoHashFromHexErrors(t *testing.T) {
	require := require.New(t)

	_, err := NewInfoHashFromHex("abc")
	require.Error(err)

	_, err = NewInfoHashFromHex("zz" + NewInfoHashFromBytes(nil).Hex()[2:])
	require.Error(err)
}
