//go:build postgres

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"neuron/internal/model"

	_ "github.com/lib/pq"
)

// PostgresStore shares the sqlite schema, with BYTEA payloads and
// numbered placeholders.
type PostgresStore struct {
	dsn string

	mu sync.RWMutex
	db *sql.DB
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{dsn: dsn}
}

func (s *PostgresStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return errors.New("postgres dsn is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error {
	if checkpoint.Slot == "" {
		return errors.New("checkpoint slot is required")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	savedAt := checkpoint.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	payload := EncodeCheckpoint(checkpoint.Header, checkpoint.Weights)
	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (slot, saved_at, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (slot) DO UPDATE SET
			saved_at = EXCLUDED.saved_at,
			payload = EXCLUDED.payload
	`, checkpoint.Slot, savedAt.UnixNano(), payload)
	return err
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, slot string) (model.Checkpoint, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Checkpoint{}, false, err
	}

	var (
		savedAt int64
		payload []byte
	)
	err = db.QueryRowContext(ctx, `SELECT saved_at, payload FROM checkpoints WHERE slot = $1`, slot).Scan(&savedAt, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}

	checkpoint, err := decodeStoredCheckpoint(slot, payload)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", slot, err)
	}
	checkpoint.SavedAt = time.Unix(0, savedAt).UTC()
	return checkpoint, true, nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, slot string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM checkpoints WHERE slot = $1`, slot)
	return err
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context) ([]model.CheckpointInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT slot, saved_at, payload FROM checkpoints ORDER BY slot`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []model.CheckpointInfo
	for rows.Next() {
		var (
			slot    string
			savedAt int64
			payload []byte
		)
		if err := rows.Scan(&slot, &savedAt, &payload); err != nil {
			return nil, err
		}
		header, err := DecodeHeader(payload)
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", slot, err)
		}
		infos = append(infos, model.CheckpointInfo{
			Slot:    slot,
			Header:  header,
			Size:    len(payload),
			SavedAt: time.Unix(0, savedAt).UTC(),
		})
	}
	return infos, rows.Err()
}

func (s *PostgresStore) SaveRun(ctx context.Context, run model.RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, schema_version, codec_version, started_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			codec_version = EXCLUDED.codec_version,
			started_at = EXCLUDED.started_at,
			payload = EXCLUDED.payload
	`, run.ID, run.SchemaVersion, run.CodecVersion, run.StartedAt.UnixNano(), payload)
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (model.RunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}

	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM runs ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) SaveLossHistory(ctx context.Context, runID string, history []float32) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeLossHistory(history)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO loss_history (run_id, payload)
		VALUES ($1, $2)
		ON CONFLICT (run_id) DO UPDATE SET
			payload = EXCLUDED.payload
	`, runID, payload)
	return err
}

func (s *PostgresStore) GetLossHistory(ctx context.Context, runID string) ([]float32, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM loss_history WHERE run_id = $1`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	history, err := DecodeLossHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode loss history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *PostgresStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS checkpoints (
		slot TEXT PRIMARY KEY,
		saved_at BIGINT NOT NULL,
		payload BYTEA NOT NULL
	);
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		codec_version INTEGER NOT NULL,
		started_at BIGINT NOT NULL,
		payload BYTEA NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loss_history (
		run_id TEXT PRIMARY KEY,
		payload BYTEA NOT NULL
	);
`
