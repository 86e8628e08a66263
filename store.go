package chunkval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const scoresFile = "scores.parquet"

type (
	// ScoreStore persists score vectors as parquet snapshots under home.
	ScoreStore struct {
		home string
		db   *sql.DB
	}
	ScoreRecord struct {
		UID   int64
		Score float64
	}
)

func NewScoreStore(home string) (*ScoreStore, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	return &ScoreStore{
		home: filepath.Clean(home),
		db:   db,
	}, nil
}

func (s *ScoreStore) path() string {
	return filepath.Join(s.home, scoresFile)
}

func (s *ScoreStore) Save(_ context.Context, scores []float64) error {
	if err := os.MkdirAll(s.home, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", s.home, err)
	}

	records := make([]ScoreRecord, 0, len(scores))
	for uid, score := range scores {
		records = append(records, ScoreRecord{UID: int64(uid), Score: score})
	}

	// Write aside and rename so a crash never leaves a torn snapshot.
	tmp := s.path() + ".tmp"
	if err := parquet.WriteFile(tmp, records,
		parquet.Compression(&zstd.Codec{
			Level:       zstd.DefaultLevel,
			Concurrency: zstd.DefaultConcurrency,
		}),
		parquet.KeyValueMetadata("Peers", strconv.Itoa(len(scores))),
		parquet.KeyValueMetadata("SavedAt", time.Now().UTC().Format(time.RFC3339)),
	); err != nil {
		return fmt.Errorf("failed to write scores: %w", err)
	}
	return os.Rename(tmp, s.path())
}

// Load returns the persisted scores, or nil when nothing was saved yet.
func (s *ScoreStore) Load(ctx context.Context) ([]float64, error) {
	if _, err := os.Stat(s.path()); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	// read_parquet does not accept a bound parameter for the path.
	query := fmt.Sprintf(`SELECT UID, Score FROM read_parquet('%s') ORDER BY UID;`, s.path())
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scores []float64
	for rows.Next() {
		var record ScoreRecord
		if err := rows.Scan(&record.UID, &record.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if record.UID < 0 {
			return nil, fmt.Errorf("negative uid %d in snapshot", record.UID)
		}
		for int64(len(scores)) <= record.UID {
			scores = append(scores, 0)
		}
		scores[record.UID] = record.Score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return scores, nil
}

func (s *ScoreStore) Close() error {
	return s.db.Close()
}
