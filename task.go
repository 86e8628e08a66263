package chunkval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/multiformats/go-multihash"
)

const (
	DefaultOrganicTimeout    = 3 * time.Second
	DefaultSyntheticTimeout  = 30 * time.Second
	DefaultMaxTokensPerChunk = 200
)

var ErrContentProvider = errors.New("content provider failure")

// Task asks a peer to split Document into chunks of at most MaxTokensPerChunk
// whitespace separated tokens. A non-empty MinerUIDs pins the peers queried for
// the round. Zero Timeout and MaxTokensPerChunk mean unset.
type Task struct {
	Document          string
	Timeout           time.Duration
	MaxTokensPerChunk int
	MinerUIDs         []int
	Synthetic         bool
}

type taskWire struct {
	Document          string  `json:"document"`
	Timeout           float64 `json:"timeout,omitempty"`
	MaxTokensPerChunk int     `json:"maxTokensPerChunk,omitempty"`
	MinerUIDs         []int   `json:"miner_uids"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	uids := t.MinerUIDs
	if uids == nil {
		uids = []int{}
	}
	return json.Marshal(taskWire{
		Document:          t.Document,
		Timeout:           t.Timeout.Seconds(),
		MaxTokensPerChunk: t.MaxTokensPerChunk,
		MinerUIDs:         uids,
	})
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var w taskWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", w.Timeout)
	}
	if w.MaxTokensPerChunk < 0 {
		return fmt.Errorf("maxTokensPerChunk must not be negative, got %d", w.MaxTokensPerChunk)
	}
	*t = Task{
		Document:          w.Document,
		Timeout:           time.Duration(w.Timeout * float64(time.Second)),
		MaxTokensPerChunk: w.MaxTokensPerChunk,
		MinerUIDs:         w.MinerUIDs,
	}
	return nil
}

// ID returns the sha2-256 multihash of the task document.
func (t Task) ID() (multihash.Multihash, error) {
	return multihash.Sum([]byte(t.Document), multihash.SHA2_256, -1)
}

type ContentProvider interface {
	FetchRandomDocument(context.Context) (string, error)
}

// TaskSource resolves the task for a round: an incoming organic task with its
// unset fields defaulted, or a synthetic one built from fetched content.
type TaskSource struct {
	content ContentProvider
}

func NewTaskSource(content ContentProvider) *TaskSource {
	return &TaskSource{content: content}
}

func (s *TaskSource) Obtain(ctx context.Context, incoming *Task) (Task, error) {
	if incoming == nil {
		if s.content == nil {
			return Task{}, fmt.Errorf("%w: no content provider configured", ErrContentProvider)
		}
		document, err := s.content.FetchRandomDocument(ctx)
		if err != nil {
			return Task{}, fmt.Errorf("%w: %w", ErrContentProvider, err)
		}
		return Task{
			Document:          document,
			Timeout:           DefaultSyntheticTimeout,
			MaxTokensPerChunk: DefaultMaxTokensPerChunk,
			Synthetic:         true,
		}, nil
	}

	task := *incoming
	if task.Timeout <= 0 {
		task.Timeout = DefaultOrganicTimeout
	}
	if task.MaxTokensPerChunk <= 0 {
		task.MaxTokensPerChunk = DefaultMaxTokensPerChunk
	}
	task.MinerUIDs = uniqueUIDs(incoming.MinerUIDs)
	task.Synthetic = false
	return task, nil
}

// uniqueUIDs drops repeated UIDs, keeping first occurrence order.
func uniqueUIDs(uids []int) []int {
	if len(uids) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(uids))
	out := make([]int, 0, len(uids))
	for _, uid := range uids {
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out
}
