package chunkval_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"github.com/vectorchat/chunkval"
)

func TestDispatchPartialFailure(t *testing.T) {
	dir, peers := newDirectory(t, 10, -1)
	subject := chunkval.NewDispatcher(dir, chunkingTransport(peers[2], peers[5]), 0)
	task := chunkval.Task{Document: testDocument, Timeout: 200 * time.Millisecond, MaxTokensPerChunk: 8}
	uids := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	start := time.Now()
	responses := subject.Dispatch(context.Background(), task, uids)
	elapsed := time.Since(start)

	require.Len(t, responses, len(uids))
	for i, resp := range responses {
		require.Equal(t, uids[i], resp.UID)
		require.Equal(t, peers[uids[i]], resp.Peer)
		if resp.UID == 2 || resp.UID == 5 {
			require.True(t, resp.Absent())
			require.ErrorIs(t, resp.Err, chunkval.ErrPeerTimeout)
			continue
		}
		require.False(t, resp.Absent())
		require.Equal(t, chunkval.SplitDocument(testDocument, 8), resp.Chunks)
	}
	// Concurrent calls: bounded by one timeout, not ten.
	require.Less(t, elapsed, 4*task.Timeout)
}

func TestDispatchIgnoresUncooperativeTransport(t *testing.T) {
	dir, _ := newDirectory(t, 3, -1)
	release := make(chan struct{})
	defer close(release)
	stuck := transportFunc(func(context.Context, peer.ID, chunkval.Task) ([]string, error) {
		<-release
		return nil, nil
	})
	subject := chunkval.NewDispatcher(dir, stuck, 0)

	start := time.Now()
	responses := subject.Dispatch(context.Background(), chunkval.Task{Timeout: 100 * time.Millisecond}, []int{0, 1, 2})
	require.Less(t, time.Since(start), time.Second)
	require.Len(t, responses, 3)
	for _, resp := range responses {
		require.ErrorIs(t, resp.Err, chunkval.ErrPeerTimeout)
	}
}

func TestDispatchErrorsBecomeAbsence(t *testing.T) {
	dir, peers := newDirectory(t, 3, -1)
	boom := errors.New("connection refused")
	transport := transportFunc(func(_ context.Context, addr peer.ID, task chunkval.Task) ([]string, error) {
		if addr == peers[1] {
			return nil, boom
		}
		return []string{task.Document}, nil
	})
	subject := chunkval.NewDispatcher(dir, transport, 1)

	responses := subject.Dispatch(context.Background(), chunkval.Task{Document: "doc", Timeout: time.Second}, []int{0, 1, 42})
	require.Len(t, responses, 3)

	require.False(t, responses[0].Absent())
	require.Equal(t, []string{"doc"}, responses[0].Chunks)

	require.ErrorIs(t, responses[1].Err, chunkval.ErrPeerUnreachable)
	require.ErrorIs(t, responses[1].Err, boom)

	require.Equal(t, 42, responses[2].UID)
	require.ErrorIs(t, responses[2].Err, chunkval.ErrUnknownPeer)
	require.Empty(t, responses[2].Peer)
}

func TestDispatchNoPeers(t *testing.T) {
	dir, _ := newDirectory(t, 2, 0)
	subject := chunkval.NewDispatcher(dir, chunkingTransport(), 0)
	require.Empty(t, subject.Dispatch(context.Background(), chunkval.Task{Timeout: time.Second}, nil))
}

func TestDispatchLimitDoesNotChargeQueuedCalls(t *testing.T) {
	dir, _ := newDirectory(t, 3, -1)
	subject := chunkval.NewDispatcher(dir, slowTransport(60*time.Millisecond), 1)

	// Run back to back the three calls need 180ms, more than one timeout.
	responses := subject.Dispatch(context.Background(), chunkval.Task{Document: "doc", Timeout: 150 * time.Millisecond}, []int{0, 1, 2})
	require.Len(t, responses, 3)
	for _, resp := range responses {
		require.NoError(t, resp.Err)
		require.Equal(t, []string{"doc"}, resp.Chunks)
	}
}
