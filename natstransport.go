package chunkval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "chunkval.chunk"

var _ Transport = (*NATSTransport)(nil)

type chunkReply struct {
	Chunks []string `json:"chunks"`
	Error  string   `json:"error,omitempty"`
}

// NATSTransport reaches each peer through request/reply on its own subject,
// <prefix>.<peer ID>.
type NATSTransport struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSTransport(nc *nats.Conn, prefix string) *NATSTransport {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSTransport{nc: nc, prefix: prefix}
}

func (t *NATSTransport) Call(ctx context.Context, addr peer.ID, task Task) ([]string, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	msg, err := t.nc.RequestWithContext(ctx, peerSubject(t.prefix, addr), data)
	if err != nil {
		return nil, err
	}
	var reply chunkReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return reply.Chunks, nil
}

// ChunkFunc is the work a peer performs for a task.
type ChunkFunc func(context.Context, Task) ([]string, error)

// ServeChunker answers tasks addressed to id with fn. It is the peer side of
// NATSTransport.
func ServeChunker(nc *nats.Conn, prefix string, id peer.ID, fn ChunkFunc) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return nc.Subscribe(peerSubject(prefix, id), func(m *nats.Msg) {
		var reply chunkReply
		var task Task
		if err := json.Unmarshal(m.Data, &task); err != nil {
			reply.Error = fmt.Sprintf("invalid task: %v", err)
		} else {
			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if task.Timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, task.Timeout)
			}
			chunks, err := fn(ctx, task)
			cancel()
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.Chunks = chunks
			}
		}
		data, err := json.Marshal(reply)
		if err != nil {
			logger.Errorw("Failed to encode chunk reply", "err", err)
			return
		}
		if err := m.Respond(data); err != nil {
			logger.Errorw("Failed to respond to task", "peer", id, "err", err)
		}
	})
}

func peerSubject(prefix string, id peer.ID) string {
	return prefix + "." + id.String()
}
