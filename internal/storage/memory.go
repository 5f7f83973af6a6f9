package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"neuron/internal/model"
)

type memoryCheckpoint struct {
	payload []byte
	savedAt time.Time
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	checkpoints map[string]memoryCheckpoint
	runs        map[string]model.RunRecord
	loss        map[string][]float32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.checkpoints = make(map[string]memoryCheckpoint)
	s.runs = make(map[string]model.RunRecord)
	s.loss = make(map[string][]float32)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	if checkpoint.Slot == "" {
		return errors.New("checkpoint slot is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	savedAt := checkpoint.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	s.checkpoints[checkpoint.Slot] = memoryCheckpoint{
		payload: EncodeCheckpoint(checkpoint.Header, checkpoint.Weights),
		savedAt: savedAt,
	}
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, slot string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.checkpoints[slot]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	checkpoint, err := decodeStoredCheckpoint(slot, stored.payload)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", slot, err)
	}
	checkpoint.SavedAt = stored.savedAt
	return checkpoint, true, nil
}

func (s *MemoryStore) DeleteCheckpoint(_ context.Context, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, slot)
	return nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context) ([]model.CheckpointInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]model.CheckpointInfo, 0, len(s.checkpoints))
	for slot, stored := range s.checkpoints {
		header, err := DecodeHeader(stored.payload)
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", slot, err)
		}
		infos = append(infos, model.CheckpointInfo{
			Slot:    slot,
			Header:  header,
			Size:    len(stored.payload),
			SavedAt: stored.savedAt,
		})
	}
	sortCheckpoints(infos)
	return infos, nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveLossHistory(_ context.Context, runID string, history []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.loss[runID] = append([]float32(nil), history...)
	return nil
}

func (s *MemoryStore) GetLossHistory(_ context.Context, runID string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.loss[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), history...), true, nil
}
