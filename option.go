package chunkval

import (
	"errors"
	"time"

	"github.com/ipni/go-indexer-core"
)

type (
	options struct {
		httpServerListenAddr string
		storePath            string
		directory            Directory
		transport            Transport
		content              ContentProvider
		rewarder             RewardAggregator
		sampler              Sampler
		roundIndex           indexer.Interface
		sampleSize           int
		alpha                float64
		roundInterval        time.Duration
		dispatchLimit        int
		saveEvery            int
		observers            []func(*RoundReport)
	}
	Option func(*options) error
)

func newOptions(option ...Option) (*options, error) {
	opts := &options{
		httpServerListenAddr: "0.0.0.0:40080",
		storePath:            ".",
		sampleSize:           10,
		alpha:                DefaultMovingAverageAlpha,
		roundInterval:        10 * time.Second,
		saveEvery:            10,
	}
	for _, configure := range option {
		if err := configure(opts); err != nil {
			return nil, err
		}
	}
	if opts.directory == nil {
		return nil, errors.New("peer directory must be set")
	}
	if opts.transport == nil {
		return nil, errors.New("transport must be set")
	}
	if opts.content == nil {
		opts.content = NewWikipediaProvider("", nil)
	}
	if opts.rewarder == nil {
		opts.rewarder = &EmbeddingRewarder{}
	}
	if opts.sampler == nil {
		opts.sampler = NewRandomSampler(uint64(time.Now().UnixNano()))
	}
	return opts, nil
}

func WithHTTPServerListenAddr(addr string) Option {
	return func(o *options) error {
		o.httpServerListenAddr = addr
		return nil
	}
}

func WithStorePath(path string) Option {
	return func(o *options) error {
		o.storePath = path
		return nil
	}
}

func WithDirectory(dir Directory) Option {
	return func(o *options) error {
		if dir == nil {
			return errors.New("directory cannot be nil")
		}
		o.directory = dir
		return nil
	}
}

func WithTransport(t Transport) Option {
	return func(o *options) error {
		if t == nil {
			return errors.New("transport cannot be nil")
		}
		o.transport = t
		return nil
	}
}

func WithContentProvider(p ContentProvider) Option {
	return func(o *options) error {
		o.content = p
		return nil
	}
}

func WithRewardAggregator(r RewardAggregator) Option {
	return func(o *options) error {
		o.rewarder = r
		return nil
	}
}

func WithSampler(s Sampler) Option {
	return func(o *options) error {
		o.sampler = s
		return nil
	}
}

// WithRoundIndex records, per task document multihash, which peers were
// queried in which round and the reward they earned.
func WithRoundIndex(index indexer.Interface) Option {
	return func(o *options) error {
		o.roundIndex = index
		return nil
	}
}

func WithSampleSize(k int) Option {
	return func(o *options) error {
		if k < 1 {
			return errors.New("sample size must be at least 1")
		}
		o.sampleSize = k
		return nil
	}
}

func WithMovingAverageAlpha(alpha float64) Option {
	return func(o *options) error {
		if alpha <= 0 || alpha > 1 {
			return errors.New("moving average alpha must be in (0, 1]")
		}
		o.alpha = alpha
		return nil
	}
}

func WithRoundInterval(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("round interval must be positive")
		}
		o.roundInterval = d
		return nil
	}
}

// WithDispatchLimit caps concurrent peer calls per round. Each call keeps its
// full timeout, so a round may take up to ceil(k/n) timeouts.
func WithDispatchLimit(n int) Option {
	return func(o *options) error {
		o.dispatchLimit = n
		return nil
	}
}

// WithSaveEvery persists scores after every n completed rounds; 0 saves only
// on shutdown.
func WithSaveEvery(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("save interval cannot be negative")
		}
		o.saveEvery = n
		return nil
	}
}

func WithRoundObserver(fn func(*RoundReport)) Option {
	return func(o *options) error {
		if fn == nil {
			return errors.New("observer cannot be nil")
		}
		o.observers = append(o.observers, fn)
		return nil
	}
}
