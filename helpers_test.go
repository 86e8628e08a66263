package chunkval_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ipni/go-indexer-core"
	"github.com/libp2p/go-libp2p/core/peer"
	p2ptest "github.com/libp2p/go-libp2p/core/test"
	"github.com/multiformats/go-multihash"
	"github.com/vectorchat/chunkval"
)

const testDocument = "Go is a statically typed language. It was designed at Google. " +
	"Goroutines make concurrency cheap! Channels connect them. Does it compile fast? Yes."

func newDirectory(t *testing.T, size, self int) (*chunkval.StaticDirectory, []peer.ID) {
	t.Helper()
	peers := make([]peer.ID, size)
	for i := range peers {
		peers[i] = p2ptest.RandPeerIDFatal(t)
	}
	return chunkval.NewStaticDirectory(self, peers...), peers
}

type transportFunc func(ctx context.Context, addr peer.ID, task chunkval.Task) ([]string, error)

func (f transportFunc) Call(ctx context.Context, addr peer.ID, task chunkval.Task) ([]string, error) {
	return f(ctx, addr, task)
}

// chunkingTransport answers every call with SplitDocument, except for silent
// peers which block until the call deadline.
func chunkingTransport(silent ...peer.ID) chunkval.Transport {
	mute := make(map[peer.ID]bool, len(silent))
	for _, id := range silent {
		mute[id] = true
	}
	return transportFunc(func(ctx context.Context, addr peer.ID, task chunkval.Task) ([]string, error) {
		if mute[addr] {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return chunkval.SplitDocument(task.Document, task.MaxTokensPerChunk), nil
	})
}

type staticContent struct {
	document string
	err      error
	calls    atomic.Int32
}

func (s *staticContent) FetchRandomDocument(context.Context) (string, error) {
	s.calls.Add(1)
	return s.document, s.err
}

var errContentDown = errors.New("content down")

type countingSampler struct {
	chunkval.Sampler
	calls atomic.Int32
}

func (s *countingSampler) Sample(pop chunkval.Population) chunkval.Sample {
	s.calls.Add(1)
	return s.Sampler.Sample(pop)
}

type rewardFunc func(ctx context.Context, task chunkval.Task, responses []chunkval.Response) ([]float64, error)

func (f rewardFunc) Rewards(ctx context.Context, task chunkval.Task, responses []chunkval.Response) ([]float64, error) {
	return f(ctx, task, responses)
}

// presenceRewards scores 1 for every present response and 0 for absent ones.
var presenceRewards = rewardFunc(func(_ context.Context, _ chunkval.Task, responses []chunkval.Response) ([]float64, error) {
	rewards := make([]float64, len(responses))
	for i, r := range responses {
		if !r.Absent() {
			rewards[i] = 1
		}
	}
	return rewards, nil
})

var _ indexer.Interface = (*recordingIndex)(nil)

type recordingIndex struct {
	noopStore
	mu  sync.Mutex
	put map[string][]indexer.Value
}

func (r *recordingIndex) Put(value indexer.Value, mhs ...multihash.Multihash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.put == nil {
		r.put = make(map[string][]indexer.Value)
	}
	for _, mh := range mhs {
		r.put[mh.B58String()] = append(r.put[mh.B58String()], value)
	}
	return nil
}

type noopStore struct{}

func (noopStore) Get(multihash.Multihash) ([]indexer.Value, bool, error) { return nil, false, nil }
func (noopStore) Put(indexer.Value, ...multihash.Multihash) error        { return nil }
func (noopStore) Remove(indexer.Value, ...multihash.Multihash) error     { return nil }
func (noopStore) RemoveProvider(context.Context, peer.ID) error          { return nil }
func (noopStore) RemoveProviderContext(peer.ID, []byte) error            { return nil }
func (noopStore) Size() (int64, error)                                   { return 0, nil }
func (noopStore) Flush() error                                           { return nil }
func (noopStore) Close() error                                           { return nil }
func (noopStore) Iter() (indexer.Iterator, error)                        { return nil, nil }
func (noopStore) Stats() (*indexer.Stats, error)                         { return nil, nil }
