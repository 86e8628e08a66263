package chunkval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPeerTimeout     = errors.New("peer timed out")
	ErrPeerUnreachable = errors.New("peer unreachable")
)

// Transport delivers a task to a single peer and returns its chunks. The
// context carries the call deadline.
type Transport interface {
	Call(ctx context.Context, addr peer.ID, task Task) ([]string, error)
}

// Response is the outcome of querying one peer. A non-nil Err marks the
// response as absent.
type Response struct {
	UID     int
	Peer    peer.ID
	Chunks  []string
	Err     error
	Elapsed time.Duration
}

func (r Response) Absent() bool { return r.Err != nil }

func (r Response) MarshalJSON() ([]byte, error) {
	out := struct {
		UID       int      `json:"uid"`
		Peer      string   `json:"peer,omitempty"`
		Chunks    []string `json:"chunks,omitempty"`
		Error     string   `json:"error,omitempty"`
		ElapsedMs int64    `json:"elapsed_ms"`
	}{
		UID:       r.UID,
		Chunks:    r.Chunks,
		ElapsedMs: r.Elapsed.Milliseconds(),
	}
	if r.Peer != "" {
		out.Peer = r.Peer.String()
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Dispatcher fans a task out to peers concurrently. Each call gets
// task.Timeout from the moment it starts; without a limit all calls start at
// once, so the round is bounded by a single timeout.
type Dispatcher struct {
	dir       Directory
	transport Transport
	limit     int
}

// NewDispatcher returns a dispatcher; limit caps in-flight calls, zero or
// less means one call per peer at once. Queued calls are not charged for
// the wait.
func NewDispatcher(dir Directory, transport Transport, limit int) *Dispatcher {
	return &Dispatcher{dir: dir, transport: transport, limit: limit}
}

// Dispatch returns exactly one response per UID, aligned with uids.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task, uids []int) []Response {
	responses := make([]Response, len(uids))

	var g errgroup.Group
	if d.limit > 0 {
		g.SetLimit(d.limit)
	}
	for i, uid := range uids {
		g.Go(func() error {
			responses[i] = d.call(ctx, task, uid)
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

type callResult struct {
	chunks []string
	err    error
}

func (d *Dispatcher) call(ctx context.Context, task Task, uid int) Response {
	start := time.Now()
	resp := Response{UID: uid}

	addr, err := d.dir.Addr(uid)
	if err != nil {
		resp.Err = err
		return resp
	}
	resp.Peer = addr

	cctx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	// The transport may not honour cancellation; never wait past the deadline.
	done := make(chan callResult, 1)
	go func() {
		chunks, err := d.transport.Call(cctx, addr, task)
		done <- callResult{chunks: chunks, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			resp.Chunks = res.chunks
		} else {
			resp.Err = absence(cctx, res.err)
		}
	case <-cctx.Done():
		resp.Err = absence(cctx, cctx.Err())
	}
	resp.Elapsed = time.Since(start)
	if resp.Absent() {
		logger.Debugw("Peer response absent", "uid", uid, "peer", addr, "err", resp.Err)
	}
	return resp
}

func absence(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrPeerTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrPeerUnreachable, err)
}
