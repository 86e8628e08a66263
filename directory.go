package chunkval

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

var ErrUnknownPeer = errors.New("unknown peer")

// Directory is a snapshot view over the registered peers. UIDs are indices
// into the directory, 0..Size()-1.
type Directory interface {
	Size() int
	Self() int
	Addr(uid int) (peer.ID, error)
}

var _ Directory = (*StaticDirectory)(nil)

type StaticDirectory struct {
	mu    sync.RWMutex
	self  int
	peers []peer.ID
}

func NewStaticDirectory(self int, peers ...peer.ID) *StaticDirectory {
	return &StaticDirectory{self: self, peers: peers}
}

func (d *StaticDirectory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

func (d *StaticDirectory) Self() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.self
}

func (d *StaticDirectory) Addr(uid int) (peer.ID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if uid < 0 || uid >= len(d.peers) {
		return "", fmt.Errorf("%w: uid %d not in directory of size %d", ErrUnknownPeer, uid, len(d.peers))
	}
	return d.peers[uid], nil
}

// SetPeers replaces the registered peers, e.g. after a registration sync.
func (d *StaticDirectory) SetPeers(peers []peer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers = peers
}

// ParsePeers decodes a comma separated list of peer IDs.
func ParsePeers(s string) ([]peer.ID, error) {
	var peers []peer.ID
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := peer.Decode(field)
		if err != nil {
			return nil, fmt.Errorf("invalid peer ID %q: %w", field, err)
		}
		peers = append(peers, id)
	}
	return peers, nil
}
