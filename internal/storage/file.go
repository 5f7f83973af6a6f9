package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"neuron/internal/model"
)

const (
	checkpointExt = ".nrn"
	lossSuffix    = ".loss.json"
)

// FileStore keeps one save file per slot under dir/checkpoints and JSON
// run records under dir/runs.
type FileStore struct {
	dir string

	mu          sync.RWMutex
	initialized bool
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == "" {
		return errors.New("file store directory is required")
	}
	for _, sub := range []string{s.checkpointDir(), s.runDir()} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	s.initialized = true
	return nil
}

func (s *FileStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	if err := validateName(checkpoint.Slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	payload := EncodeCheckpoint(checkpoint.Header, checkpoint.Weights)
	return writeFileAtomic(s.checkpointPath(checkpoint.Slot), payload)
}

func (s *FileStore) GetCheckpoint(_ context.Context, slot string) (model.Checkpoint, bool, error) {
	if err := validateName(slot); err != nil {
		return model.Checkpoint{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.checkpointPath(slot)
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}
	checkpoint, err := decodeStoredCheckpoint(slot, payload)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", slot, err)
	}
	if info, err := os.Stat(path); err == nil {
		checkpoint.SavedAt = info.ModTime().UTC()
	}
	return checkpoint, true, nil
}

func (s *FileStore) DeleteCheckpoint(_ context.Context, slot string) error {
	if err := validateName(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.checkpointPath(slot))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ListCheckpoints skips files without a valid magic, which is how a
// wiped slot looks on disk.
func (s *FileStore) ListCheckpoints(_ context.Context) ([]model.CheckpointInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.checkpointDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	infos := make([]model.CheckpointInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		slot := strings.TrimSuffix(name, checkpointExt)
		path := filepath.Join(s.checkpointDir(), name)
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		header, err := DecodeHeader(payload)
		if err != nil {
			if errors.Is(err, ErrBadMagic) || errors.Is(err, ErrTruncated) {
				continue
			}
			return nil, fmt.Errorf("decode checkpoint %s: %w", slot, err)
		}
		info := model.CheckpointInfo{Slot: slot, Header: header, Size: len(payload)}
		if stat, err := entry.Info(); err == nil {
			info.SavedAt = stat.ModTime().UTC()
		}
		infos = append(infos, info)
	}
	sortCheckpoints(infos)
	return infos, nil
}

func (s *FileStore) SaveRun(_ context.Context, run model.RunRecord) error {
	if err := validateName(run.ID); err != nil {
		return err
	}
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}
	return writeFileAtomic(filepath.Join(s.runDir(), run.ID+".json"), payload)
}

func (s *FileStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	if err := validateName(id); err != nil {
		return model.RunRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, err := os.ReadFile(filepath.Join(s.runDir(), id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
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

func (s *FileStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.runDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	runs := make([]model.RunRecord, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, lossSuffix) {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(s.runDir(), name))
		if err != nil {
			return nil, err
		}
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", name, err)
		}
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *FileStore) SaveLossHistory(_ context.Context, runID string, history []float32) error {
	if err := validateName(runID); err != nil {
		return err
	}
	payload, err := EncodeLossHistory(history)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}
	return writeFileAtomic(filepath.Join(s.runDir(), runID+lossSuffix), payload)
}

func (s *FileStore) GetLossHistory(_ context.Context, runID string) ([]float32, bool, error) {
	if err := validateName(runID); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, err := os.ReadFile(filepath.Join(s.runDir(), runID+lossSuffix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
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

func (s *FileStore) checkpointDir() string { return filepath.Join(s.dir, "checkpoints") }
func (s *FileStore) runDir() string        { return filepath.Join(s.dir, "runs") }

func (s *FileStore) checkpointPath(slot string) string {
	return filepath.Join(s.checkpointDir(), slot+checkpointExt)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
