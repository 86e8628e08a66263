package chunkval

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/ipfs/go-log/v2"
)

var logger = log.Logger("chunkval")

type Validator struct {
	*options
	server http.Server
	router http.Handler
	store  *ScoreStore
	scores *ScoreTracker
	runner *RoundRunner
	feed   *roundFeed

	cancel context.CancelFunc
	wg     sync.WaitGroup
	rounds int
}

func New(o ...Option) (*Validator, error) {
	var v Validator
	var err error
	if v.options, err = newOptions(o...); err != nil {
		return nil, err
	}
	v.store, err = NewScoreStore(v.storePath)
	if err != nil {
		return nil, fmt.Errorf("creating store: %s", err)
	}
	v.scores = NewScoreTracker(v.directory.Size(), v.alpha)
	v.feed = newRoundFeed()
	v.runner = NewRoundRunner(RoundRunnerConfig{
		Directory:  v.directory,
		Sampler:    v.sampler,
		Tasks:      NewTaskSource(v.content),
		Dispatcher: NewDispatcher(v.directory, v.transport, v.dispatchLimit),
		Rewarder:   v.rewarder,
		Scores:     v.scores,
		SampleSize: v.sampleSize,
		Index:      v.roundIndex,
		Observers:  append([]func(*RoundReport){v.feed.publish, v.checkpoint}, v.observers...),
	})
	v.router = v.newRouter()
	v.server = http.Server{
		Addr:    v.httpServerListenAddr,
		Handler: v.router,
	}
	return &v, nil
}

// Runner exposes the round loop, e.g. to forward organic tasks directly.
func (v *Validator) Runner() *RoundRunner {
	return v.runner
}

// Scores returns a copy of the current score vector.
func (v *Validator) Scores() []float64 {
	return v.scores.Snapshot()
}

func (v *Validator) Handler() http.Handler {
	return v.router
}

// Start restores persisted scores, then serves the HTTP API and runs rounds
// every round interval until Shutdown.
func (v *Validator) Start(ctx context.Context) error {
	scores, err := v.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading scores: %w", err)
	}
	if scores != nil {
		v.scores.Restore(scores)
		logger.Infow("Restored scores", "peers", len(scores))
	}

	listen, err := net.Listen("tcp", v.httpServerListenAddr)
	if err != nil {
		return err
	}
	go func() {
		if err := v.server.Serve(listen); !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("Sever stopped unexpectedly.", "err", err)
		} else {
			logger.Info("Sever stopped.")
		}
	}()

	loopCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.runner.Run(loopCtx, v.roundInterval)
	}()
	return nil
}

func (v *Validator) Shutdown(ctx context.Context) (_err error) {
	if v.cancel != nil {
		v.cancel()
	}
	v.wg.Wait()
	defer func() {
		if err := v.store.Save(ctx, v.scores.Snapshot()); _err == nil {
			_err = err
		}
		if err := v.store.Close(); _err == nil {
			_err = err
		}
	}()
	v.feed.close()
	return v.server.Shutdown(ctx)
}

// checkpoint runs on the round goroutine, after scores were updated.
func (v *Validator) checkpoint(*RoundReport) {
	if v.saveEvery == 0 {
		return
	}
	v.rounds++
	if v.rounds%v.saveEvery != 0 {
		return
	}
	if err := v.store.Save(context.Background(), v.scores.Snapshot()); err != nil {
		logger.Errorw("Failed to save scores", "err", err)
	}
}
