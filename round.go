package chunkval

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ipni/go-indexer-core"
	"github.com/multiformats/go-multihash"
)

type RoundState int32

const (
	StateIdle RoundState = iota
	StateSampling
	StateTaskReady
	StateDispatching
	StateAggregating
	StateScoreUpdated
)

func (s RoundState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateTaskReady:
		return "task-ready"
	case StateDispatching:
		return "dispatching"
	case StateAggregating:
		return "aggregating"
	case StateScoreUpdated:
		return "score-updated"
	default:
		return "unknown"
	}
}

// RoundReport describes one completed round.
type RoundReport struct {
	ID        string
	TaskID    multihash.Multihash
	Task      Task
	Peers     []int
	Responses []Response
	Rewards   []float64
	Degraded  bool
	Started   time.Time
	Elapsed   time.Duration
}

func (r *RoundReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string     `json:"id"`
		TaskID    string     `json:"task_id"`
		Task      Task       `json:"task"`
		Synthetic bool       `json:"synthetic"`
		UIDs      []int      `json:"uids"`
		Responses []Response `json:"responses"`
		Rewards   []float64  `json:"rewards"`
		Degraded  bool       `json:"degraded,omitempty"`
		Started   time.Time  `json:"started"`
		ElapsedMs int64      `json:"elapsed_ms"`
	}{
		ID:        r.ID,
		TaskID:    r.TaskID.B58String(),
		Task:      r.Task,
		Synthetic: r.Task.Synthetic,
		UIDs:      r.Peers,
		Responses: r.Responses,
		Rewards:   r.Rewards,
		Degraded:  r.Degraded,
		Started:   r.Started,
		ElapsedMs: r.Elapsed.Milliseconds(),
	})
}

// RoundRunner runs the sample, obtain task, dispatch, aggregate and update
// cycle. Rounds never overlap.
type RoundRunner struct {
	mu    sync.Mutex
	state atomic.Int32

	dir        Directory
	sampler    Sampler
	tasks      *TaskSource
	dispatcher *Dispatcher
	rewarder   RewardAggregator
	scores     *ScoreTracker
	sampleSize int
	index      indexer.Interface
	observers  []func(*RoundReport)
}

type RoundRunnerConfig struct {
	Directory  Directory
	Sampler    Sampler
	Tasks      *TaskSource
	Dispatcher *Dispatcher
	Rewarder   RewardAggregator
	Scores     *ScoreTracker
	SampleSize int
	// Index, when set, records the peers queried for each task document.
	Index     indexer.Interface
	Observers []func(*RoundReport)
}

func NewRoundRunner(cfg RoundRunnerConfig) *RoundRunner {
	return &RoundRunner{
		dir:        cfg.Directory,
		sampler:    cfg.Sampler,
		tasks:      cfg.Tasks,
		dispatcher: cfg.Dispatcher,
		rewarder:   cfg.Rewarder,
		scores:     cfg.Scores,
		sampleSize: cfg.SampleSize,
		index:      cfg.Index,
		observers:  cfg.Observers,
	}
}

func (r *RoundRunner) State() RoundState {
	return RoundState(r.state.Load())
}

func (r *RoundRunner) setState(s RoundState) {
	r.state.Store(int32(s))
}

// Forward runs one round. A nil incoming task makes the round synthetic.
// Peer failures never fail the round; a content provider failure, a rewarder
// contract violation or ctx ending mid-dispatch skips it without touching the
// scores.
func (r *RoundRunner) Forward(ctx context.Context, incoming *Task) (*RoundReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.setState(StateIdle)

	report := &RoundReport{
		ID:      uuid.NewString(),
		Started: time.Now(),
	}

	r.setState(StateSampling)
	size := r.dir.Size()
	r.scores.Resize(size)
	if incoming != nil && len(incoming.MinerUIDs) > 0 {
		report.Peers = uniqueUIDs(incoming.MinerUIDs)
	} else {
		sample := r.sampler.Sample(Population{Size: size, Self: r.dir.Self(), MaxSamples: r.sampleSize})
		if sample.Degraded {
			logger.Warnw("Peer sampling degraded", "round", report.ID, "reason", sample.Reason, "uids", sample.UIDs)
		}
		report.Peers = sample.UIDs
		report.Degraded = sample.Degraded
	}

	task, err := r.tasks.Obtain(ctx, incoming)
	if err != nil {
		logger.Errorw("Failed to obtain task; skipping round", "round", report.ID, "err", err)
		return nil, err
	}
	if report.TaskID, err = task.ID(); err != nil {
		return nil, fmt.Errorf("hashing task document: %w", err)
	}
	report.Task = task
	r.setState(StateTaskReady)

	r.setState(StateDispatching)
	report.Responses = r.dispatcher.Dispatch(ctx, task, report.Peers)
	// Absences caused by the caller going away say nothing about the peers.
	if err := ctx.Err(); err != nil {
		logger.Warnw("Round abandoned by caller; skipping score update", "round", report.ID, "err", err)
		return nil, fmt.Errorf("round abandoned: %w", err)
	}

	r.setState(StateAggregating)
	rewards, err := r.rewarder.Rewards(ctx, task, report.Responses)
	if err != nil {
		logger.Errorw("Failed to compute rewards; skipping score update", "round", report.ID, "err", err)
		return nil, fmt.Errorf("computing rewards: %w", err)
	}
	if err := r.scores.Update(rewards, report.Peers); err != nil {
		logger.Errorw("Rejected rewards; skipping score update", "round", report.ID, "err", err)
		return nil, err
	}
	report.Rewards = rewards
	r.setState(StateScoreUpdated)
	report.Elapsed = time.Since(report.Started)

	r.record(report)
	var absent int
	for _, resp := range report.Responses {
		if resp.Absent() {
			absent++
		}
	}
	logger.Infow("Round complete",
		"round", report.ID,
		"task", report.TaskID.B58String(),
		"synthetic", task.Synthetic,
		"queried", len(report.Peers),
		"absent", absent,
		"elapsed", report.Elapsed)

	for _, observe := range r.observers {
		observe(report)
	}
	return report, nil
}

// Run forwards a synthetic round every interval until ctx is done.
func (r *RoundRunner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var failures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Forward(ctx, nil); err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				logger.Warnw("Round skipped", "consecutiveFailures", failures, "err", err)
				continue
			}
			failures = 0
		}
	}
}

func (r *RoundRunner) record(report *RoundReport) {
	if r.index == nil {
		return
	}
	for i, resp := range report.Responses {
		if resp.Peer == "" {
			continue
		}
		value := indexer.Value{
			ProviderID:    resp.Peer,
			ContextID:     []byte(report.ID),
			MetadataBytes: []byte(strconv.FormatFloat(report.Rewards[i], 'g', -1, 64)),
		}
		if err := r.index.Put(value, report.TaskID); err != nil {
			logger.Warnw("Failed to index round", "round", report.ID, "peer", resp.Peer, "err", err)
		}
	}
}
