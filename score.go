package chunkval

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

const DefaultMovingAverageAlpha = 0.1

var ErrRewardLength = errors.New("reward vector length does not match queried peers")

// ScoreTracker owns the per-peer moving average scores, indexed by UID. It is
// the only writer of the vector; readers take copies via Snapshot.
type ScoreTracker struct {
	mu     sync.RWMutex
	alpha  float64
	scores []float64
}

func NewScoreTracker(size int, alpha float64) *ScoreTracker {
	return &ScoreTracker{alpha: alpha, scores: make([]float64, max(size, 0))}
}

// Update blends each reward into the score of the UID at the same position:
// score = alpha*reward + (1-alpha)*score. UIDs outside the vector are skipped.
func (t *ScoreTracker) Update(rewards []float64, uids []int) error {
	if len(rewards) != len(uids) {
		return fmt.Errorf("%w: %d rewards for %d peers", ErrRewardLength, len(rewards), len(uids))
	}
	if len(uids) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, uid := range uids {
		if uid < 0 || uid >= len(t.scores) {
			logger.Warnw("Skipping score update for peer outside directory", "uid", uid, "size", len(t.scores))
			continue
		}
		reward := rewards[i]
		if math.IsNaN(reward) || math.IsInf(reward, 0) {
			reward = 0
		}
		t.scores[uid] = t.alpha*reward + (1-t.alpha)*t.scores[uid]
	}
	return nil
}

// Resize tracks a directory size change. New peers start at zero; scores of
// removed trailing peers are dropped.
func (t *ScoreTracker) Resize(size int) {
	size = max(size, 0)
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case size < len(t.scores):
		t.scores = t.scores[:size:size]
	case size > len(t.scores):
		grown := make([]float64, size)
		copy(grown, t.scores)
		t.scores = grown
	}
}

// Restore replaces the vector with persisted scores.
func (t *ScoreTracker) Restore(scores []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores = append([]float64(nil), scores...)
}

func (t *ScoreTracker) Snapshot() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]float64(nil), t.scores...)
}

func (t *ScoreTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.scores)
}
