package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ipfs/go-log/v2"
	"github.com/ipni/go-indexer-core/store/memory"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/vectorchat/chunkval"
)

var logger = log.Logger("chunkval/cmd")

type config struct {
	natsURL       string
	subjectPrefix string
	peers         string
	selfUID       int
	listenAddr    string
	storePath     string
	sampleSize    int
	alpha         float64
	roundInterval time.Duration
	openAIKey     string
	logLevel      string
}

func loadConfig() (config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config{}, fmt.Errorf("loading .env: %w", err)
	}
	cfg := config{
		natsURL:       getenv("CHUNKVAL_NATS_URL", nats.DefaultURL),
		subjectPrefix: getenv("CHUNKVAL_SUBJECT_PREFIX", chunkval.DefaultSubjectPrefix),
		peers:         os.Getenv("CHUNKVAL_PEERS"),
		listenAddr:    getenv("CHUNKVAL_LISTEN_ADDR", "0.0.0.0:40080"),
		storePath:     getenv("CHUNKVAL_STORE_PATH", "."),
		openAIKey:     os.Getenv("OPENAI_API_KEY"),
		logLevel:      getenv("CHUNKVAL_LOG_LEVEL", "info"),
	}
	var err error
	if cfg.selfUID, err = strconv.Atoi(getenv("CHUNKVAL_SELF_UID", "-1")); err != nil {
		return config{}, fmt.Errorf("CHUNKVAL_SELF_UID: %w", err)
	}
	if cfg.sampleSize, err = strconv.Atoi(getenv("CHUNKVAL_SAMPLE_SIZE", "10")); err != nil {
		return config{}, fmt.Errorf("CHUNKVAL_SAMPLE_SIZE: %w", err)
	}
	if cfg.alpha, err = strconv.ParseFloat(getenv("CHUNKVAL_MOVING_AVERAGE_ALPHA", "0.1"), 64); err != nil {
		return config{}, fmt.Errorf("CHUNKVAL_MOVING_AVERAGE_ALPHA: %w", err)
	}
	if cfg.roundInterval, err = time.ParseDuration(getenv("CHUNKVAL_ROUND_INTERVAL", "10s")); err != nil {
		return config{}, fmt.Errorf("CHUNKVAL_ROUND_INTERVAL: %w", err)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	if err := run(); err != nil {
		logger.Errorw("Validator failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := log.SetLogLevel("*", cfg.logLevel); err != nil {
		return err
	}
	if cfg.openAIKey == "" {
		logger.Warn("OPENAI_API_KEY not set; rewarding chunk structure only.")
	}

	peers, err := chunkval.ParsePeers(cfg.peers)
	if err != nil {
		return err
	}
	nc, err := nats.Connect(cfg.natsURL, nats.Name("chunkval"))
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer nc.Close()

	rewarder := &chunkval.EmbeddingRewarder{}
	if cfg.openAIKey != "" {
		rewarder.Embedder = chunkval.NewOpenAIEmbedder(cfg.openAIKey)
	}
	index := memory.New()
	defer index.Close()

	v, err := chunkval.New(
		chunkval.WithHTTPServerListenAddr(cfg.listenAddr),
		chunkval.WithStorePath(cfg.storePath),
		chunkval.WithDirectory(chunkval.NewStaticDirectory(cfg.selfUID, peers...)),
		chunkval.WithTransport(chunkval.NewNATSTransport(nc, cfg.subjectPrefix)),
		chunkval.WithRewardAggregator(rewarder),
		chunkval.WithRoundIndex(index),
		chunkval.WithSampleSize(cfg.sampleSize),
		chunkval.WithMovingAverageAlpha(cfg.alpha),
		chunkval.WithRoundInterval(cfg.roundInterval),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := v.Start(ctx); err != nil {
		return err
	}
	logger.Infow("Validator started", "listen", cfg.listenAddr, "peers", len(peers), "self", cfg.selfUID)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return v.Shutdown(shutdownCtx)
}
