package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// SaveHeader is the fixed-size preamble of a checkpoint. Checksum is the
// CRC32 of the weight stream that follows it.
type SaveHeader struct {
	Version         uint16  `json:"version"`
	Tier            uint8   `json:"tier"`
	Episodes        uint32  `json:"episodes"`
	Steps           uint32  `json:"steps"`
	TrainingSeconds uint32  `json:"training_seconds"`
	BestWinRate     float32 `json:"best_win_rate"`
	Epsilon         float32 `json:"epsilon"`
	LearningRate    float32 `json:"learning_rate"`
	Gamma           float32 `json:"gamma"`
	EpsilonMin      float32 `json:"epsilon_min"`
	EpsilonDecay    float32 `json:"epsilon_decay"`
	BatchSize       uint16  `json:"batch_size"`
	Checksum        uint32  `json:"checksum"`
}

// Checkpoint is a saved network in a named slot.
type Checkpoint struct {
	Slot    string     `json:"slot"`
	Header  SaveHeader `json:"header"`
	Weights []byte     `json:"-"`
	SavedAt time.Time  `json:"saved_at"`
}

// CheckpointInfo describes a slot without its weights.
type CheckpointInfo struct {
	Slot    string     `json:"slot"`
	Header  SaveHeader `json:"header"`
	Size    int        `json:"size"`
	SavedAt time.Time  `json:"saved_at"`
}

type RunHyperparameters struct {
	LearningRate float32 `json:"learning_rate"`
	Gamma        float32 `json:"gamma"`
	EpsilonStart float32 `json:"epsilon_start"`
	EpsilonMin   float32 `json:"epsilon_min"`
	EpsilonDecay float32 `json:"epsilon_decay"`
	BatchSize    int     `json:"batch_size"`
	Optimizer    string  `json:"optimizer"`
}

// RunRecord summarises one completed training run.
type RunRecord struct {
	VersionedRecord
	ID              string             `json:"id"`
	Scape           string             `json:"scape"`
	Tier            string             `json:"tier"`
	Preset          string             `json:"preset,omitempty"`
	Hyperparameters RunHyperparameters `json:"hyperparameters"`
	Steps           int                `json:"steps"`
	Episodes        int                `json:"episodes"`
	FinalEpsilon    float32            `json:"final_epsilon"`
	WinRate         float32            `json:"win_rate"`
	AvgRallyLength  float32            `json:"avg_rally_length"`
	AvgReward       float32            `json:"avg_reward"`
	SmoothedLoss    float32            `json:"smoothed_loss"`
	Checkpoint      string             `json:"checkpoint,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
}

// EpisodeRecord is one finished episode as reported during training.
type EpisodeRecord struct {
	Episode       int     `json:"episode"`
	Step          int     `json:"step"`
	AgentScore    int     `json:"agent_score"`
	OpponentScore int     `json:"opponent_score"`
	Reward        float32 `json:"reward"`
	WinRate       float32 `json:"win_rate"`
	Epsilon       float32 `json:"epsilon"`
}
