//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"neuron/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error {
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
		VALUES (?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			saved_at = excluded.saved_at,
			payload = excluded.payload
	`, checkpoint.Slot, savedAt.UnixNano(), payload)
	return err
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, slot string) (model.Checkpoint, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Checkpoint{}, false, err
	}

	var (
		savedAt int64
		payload []byte
	)
	err = db.QueryRowContext(ctx, `SELECT saved_at, payload FROM checkpoints WHERE slot = ?`, slot).Scan(&savedAt, &payload)
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

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, slot string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM checkpoints WHERE slot = ?`, slot)
	return err
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]model.CheckpointInfo, error) {
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

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.RunRecord) error {
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
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			started_at = excluded.started_at,
			payload = excluded.payload
	`, run.ID, run.SchemaVersion, run.CodecVersion, run.StartedAt.UnixNano(), payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (model.RunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
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

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM runs`)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

func (s *SQLiteStore) SaveLossHistory(ctx context.Context, runID string, history []float32) error {
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
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetLossHistory(ctx context.Context, runID string) ([]float32, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM loss_history WHERE run_id = ?`, runID).Scan(&payload)
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

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			slot TEXT PRIMARY KEY,
			saved_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS loss_history (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
