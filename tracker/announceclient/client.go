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
package announceclient

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cenkalti/backoff"
	"github.com/jackpal/bencode-go"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/utils/log"
)

// ErrNoPeers is returned when every tracker failed. A tracker which answers
// with an empty peer list counts as a success.
var ErrNoPeers = errors.New("no peers available")

// Client announces the local peer to the torrent's trackers and returns the
// addresses of other peers in the swarm.
type Client interface {
	GetPeers() ([]string, error)
}

type client struct {
	config Config
	mi     *core.MetaInfo
	peerID core.PeerID
	http   *http.Client
}

// New creates a Client announcing mi on behalf of peerID.
func New(config Config, mi *core.MetaInfo, peerID core.PeerID) Client {
	config = config.applyDefaults()
	return &client{
		config: config,
		mi:     mi,
		peerID: peerID,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// GetPeers tries each tracker URL in metainfo order until one produces a
// peer list. Per-tracker transport errors retry with capped exponential
// backoff before moving on to the next tracker URL.
func (c *client) GetPeers() ([]string, error) {
	for _, trackerURL := range c.mi.TrackerURLs() {
		var peers []string
		announce := func() error {
			var err error
			peers, err = c.announce(trackerURL)
			return err
		}
		b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.config.MaxRetries)
		if err := backoff.Retry(announce, b); err != nil {
			log.With("tracker", trackerURL).Warnf("Announce failed: %s", err)
			continue
		}
		return peers, nil
	}
	return nil, ErrNoPeers
}

func (c *client) announce(trackerURL string) ([]string, error) {
	resp, err := c.http.Get(c.announceURL(trackerURL))
	if err != nil {
		return nil, fmt.Errorf("send announce: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker returned %s", resp.Status)
	}
	decoded, err := bencode.Decode(resp.Body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %s", err))
	}
	top, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, backoff.Permanent(errors.New("response is not a dictionary"))
	}
	if reason, ok := top["failure reason"].(string); ok {
		// An application-level rejection will not heal on retry.
		return nil, backoff.Permanent(fmt.Errorf("tracker failure: %s", reason))
	}
	peers, err := parsePeers(top["peers"])
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return peers, nil
}

// announceURL builds the BEP-3 announce query. Binary values (info hash and
// peer id) are percent-encoded byte-for-byte.
func (c *client) announceURL(trackerURL string) string {
	params := url.Values{}
	params.Set("info_hash", string(c.mi.InfoHash().Bytes()))
	params.Set("peer_id", string(c.peerID.Bytes()))
	params.Set("port", strconv.Itoa(c.config.Port))
	params.Set("uploaded", "0")
	params.Set("downloaded", "0")
	params.Set("left", strconv.FormatInt(c.mi.TotalLength(), 10))
	params.Set("compact", "1")
	return trackerURL + "?" + params.Encode()
}

// parsePeers handles both peer list encodings: the compact form, a binary
// string of 4-byte IPv4 + 2-byte big-endian port entries, and the original
// form, a list of dictionaries with "ip" and "port" keys.
func parsePeers(v interface{}) ([]string, error) {
	switch peers := v.(type) {
	case string:
		if len(peers)%6 != 0 {
			return nil, fmt.Errorf("compact peers length %d is not a multiple of 6", len(peers))
		}
		var addrs []string
		for i := 0; i+6 <= len(peers); i += 6 {
			addrs = append(addrs, fmt.Sprintf("%d.%d.%d.%d:%d",
				peers[i], peers[i+1], peers[i+2], peers[i+3],
				int(peers[i+4])<<8|int(peers[i+5])))
		}
		return addrs, nil
	case []interface{}:
		var addrs []string
		for _, entry := range peers {
			d, ok := entry.(map[string]interface{})
			if !ok {
				return nil, errors.New("peer entry is not a dictionary")
			}
			ip, ok := d["ip"].(string)
			if !ok {
				return nil, errors.New("peer entry missing ip")
			}
			port, ok := d["port"].(int64)
			if !ok {
				return nil, errors.New("peer entry missing port")
			}
			addrs = append(addrs, fmt.Sprintf("%s:%d", ip, port))
		}
		return addrs, nil
	case nil:
		return nil, errors.New("response missing peers")
	}
	return nil, fmt.Errorf("unexpected peers type %T", v)
}
