package storage

import (
	"context"
	"sort"

	"neuron/internal/model"
)

// Store persists checkpoints, completed runs and their loss curves.
// Checkpoints travel through EncodeCheckpoint so every backend verifies
// the same checksum on read.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, slot string) (model.Checkpoint, bool, error)
	DeleteCheckpoint(ctx context.Context, slot string) error
	ListCheckpoints(ctx context.Context) ([]model.CheckpointInfo, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveLossHistory(ctx context.Context, runID string, history []float32) error
	GetLossHistory(ctx context.Context, runID string) ([]float32, bool, error)
}

func sortCheckpoints(infos []model.CheckpointInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Slot < infos[j].Slot })
}

// sortRuns orders runs newest first, ties broken by id.
func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}

func decodeStoredCheckpoint(slot string, payload []byte) (model.Checkpoint, error) {
	header, weights, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.Checkpoint{}, err
	}
	return model.Checkpoint{Slot: slot, Header: header, Weights: append([]byte(nil), weights...)}, nil
}
