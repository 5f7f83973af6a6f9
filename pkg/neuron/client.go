// Package neuron is the public entry point for training, evaluating and
// managing DQN agents and their checkpoints.
package neuron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"neuron/internal/model"
	"neuron/internal/nn"
	"neuron/internal/platform"
	"neuron/internal/scape"
	"neuron/internal/stats"
	"neuron/internal/storage"
	"neuron/internal/training"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "neuron.db"
	defaultScape      = "pong"
	defaultSteps      = 10000

	defaultEvalEpisodes = 20
	defaultEvalSteps    = 2000
)

var ErrCheckpointNotFound = platform.ErrCheckpointNotFound

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	// Builtins holds the shipped checkpoints; nil means every builtin
	// falls back to fresh weights.
	Builtins fs.FS
	Logger   *slog.Logger
}

type Client struct {
	store    storage.Store
	builtins fs.FS
	log      *slog.Logger

	runsDir    string
	exportsDir string
}

// TrainRequest configures one training run. Zero values select defaults;
// hyperparameter fields override the preset when non-zero.
type TrainRequest struct {
	Scape     string
	Tier      string
	Preset    string
	Optimizer string

	LearningRate float32
	Gamma        float32
	EpsilonStart float32
	EpsilonMin   float32
	EpsilonDecay float32
	BatchSize    int

	Steps          int
	ReplayCapacity int

	WeightSeed uint32
	ActionSeed uint32
	ReplaySeed uint32
	ScapeSeed  uint32

	// Resume loads a checkpoint slot before training; Builtin seeds the
	// network from a shipped checkpoint instead.
	Resume  string
	Builtin string
	// SaveSlot, when set, receives the trained network.
	SaveSlot string

	OnEpisode func(model.EpisodeRecord)
}

type TrainSummary struct {
	RunID        string
	ArtifactsDir string
	Tier         string
	Steps        int
	Episodes     int
	WinRate      float32
	BestWinRate  float32
	Epsilon      float32
	SmoothedLoss float32
	Loss         stats.Summary
	Checkpoint   *model.SaveHeader
	Elapsed      time.Duration
}

type EvaluateRequest struct {
	Scape      string
	Tier       string
	Checkpoint string
	Builtin    string
	Episodes   int
	MaxSteps   int
	Seed       uint32
	// RunID attaches the report to a run's artifacts when set.
	RunID string
}

type EvaluateSummary struct {
	Fitness    float64
	Report     stats.EvaluationReport
	ReportPath string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Scape        string
	Tier         string
	Steps        int
	Episodes     int
	WinRate      float32
	SmoothedLoss float32
	EvalWinRate  *float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		builtins:   opts.Builtins,
		log:        logger,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// OpenSession builds a session for req, restoring req.Resume or
// req.Builtin when set. When resuming without an explicit tier the tier is
// taken from the checkpoint header.
func (c *Client) OpenSession(ctx context.Context, req TrainRequest) (*platform.Session, error) {
	session, _, err := c.openSession(ctx, req)
	return session, err
}

func (c *Client) openSession(ctx context.Context, req TrainRequest) (*platform.Session, platform.Config, error) {
	cfg, err := c.sessionConfig(ctx, req)
	if err != nil {
		return nil, cfg, err
	}
	session, err := platform.NewSession(cfg)
	if err != nil {
		return nil, cfg, err
	}

	switch {
	case req.Resume != "":
		if _, err := session.LoadCheckpoint(ctx, req.Resume); err != nil {
			return nil, cfg, err
		}
	case req.Builtin != "":
		b, err := storage.ParseBuiltin(req.Builtin)
		if err != nil {
			return nil, cfg, err
		}
		if _, err := session.LoadBuiltin(b); err != nil {
			return nil, cfg, err
		}
	}
	return session, cfg, nil
}

func (c *Client) sessionConfig(ctx context.Context, req TrainRequest) (platform.Config, error) {
	cfg := platform.DefaultConfig()
	if req.Scape != "" {
		cfg.Scape = req.Scape
	}
	if _, err := scape.Lookup(cfg.Scape); err != nil {
		return platform.Config{}, err
	}

	tier, err := c.resolveTier(ctx, req.Tier, req.Resume)
	if err != nil {
		return platform.Config{}, err
	}
	cfg.Tier = &tier

	hp, err := resolveHyperparameters(req)
	if err != nil {
		return platform.Config{}, err
	}
	cfg.Hyperparameters = hp

	if req.ReplayCapacity > 0 {
		cfg.ReplayCapacity = req.ReplayCapacity
	}
	if req.WeightSeed != 0 {
		cfg.WeightSeed = req.WeightSeed
	}
	if req.ActionSeed != 0 {
		cfg.ActionSeed = req.ActionSeed
	}
	if req.ReplaySeed != 0 {
		cfg.ReplaySeed = req.ReplaySeed
	}
	cfg.ScapeSeed = req.ScapeSeed
	cfg.Store = c.store
	cfg.Builtins = c.builtins
	cfg.Logger = c.log
	cfg.OnEpisode = req.OnEpisode
	return cfg, nil
}

func (c *Client) resolveTier(ctx context.Context, raw, resume string) (nn.Tier, error) {
	if raw != "" {
		return nn.ParseTier(raw)
	}
	if resume == "" {
		return nn.DefaultTier, nil
	}
	checkpoint, ok, err := c.store.GetCheckpoint(ctx, resume)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCheckpointNotFound, resume)
	}
	return nn.Tier(checkpoint.Header.Tier), nil
}

func resolveHyperparameters(req TrainRequest) (training.Hyperparameters, error) {
	opt := nn.Adam
	if req.Optimizer != "" {
		parsed, err := nn.ParseOptimizer(req.Optimizer)
		if err != nil {
			return training.Hyperparameters{}, err
		}
		opt = parsed
	}

	hp := training.DefaultHyperparameters()
	hp.Optimizer = opt
	if req.Preset != "" {
		preset, err := training.ParsePreset(req.Preset)
		if err != nil {
			return training.Hyperparameters{}, err
		}
		if hp, err = preset.Hyperparameters(opt); err != nil {
			return training.Hyperparameters{}, err
		}
	}

	if req.LearningRate != 0 {
		hp.LearningRate = req.LearningRate
	}
	if req.Gamma != 0 {
		hp.Gamma = req.Gamma
	}
	if req.EpsilonStart != 0 {
		hp.EpsilonStart = req.EpsilonStart
	}
	if req.EpsilonMin != 0 {
		hp.EpsilonMin = req.EpsilonMin
	}
	if req.EpsilonDecay != 0 {
		hp.EpsilonDecay = req.EpsilonDecay
	}
	if req.BatchSize != 0 {
		hp.BatchSize = req.BatchSize
	}
	return hp, hp.Validate()
}

// Train runs req.Steps training frames, persists the run record and loss
// curve, writes run artifacts and optionally saves a checkpoint.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if req.Steps < 0 {
		return TrainSummary{}, fmt.Errorf("steps must be >= 0, got %d", req.Steps)
	}
	if req.Steps == 0 {
		req.Steps = defaultSteps
	}

	session, cfg, err := c.openSession(ctx, req)
	if err != nil {
		return TrainSummary{}, err
	}

	runID := uuid.NewString()
	started := time.Now().UTC()
	c.log.Info("training started", "run_id", runID, "scape", session.ScapeName(), "tier", session.Tier().String(), "steps", req.Steps)

	if err := session.Run(ctx, req.Steps, platform.ModeTrain); err != nil {
		return TrainSummary{}, fmt.Errorf("run %s: %w", runID, err)
	}

	var saved *model.SaveHeader
	if req.SaveSlot != "" {
		header, err := session.SaveCheckpoint(ctx, req.SaveSlot)
		if err != nil {
			return TrainSummary{}, err
		}
		saved = &header
	}
	finished := time.Now().UTC()

	snap := session.Snapshot()
	hp := session.Hyperparameters()
	losses := session.LossHistory()
	runHP := model.RunHyperparameters{
		LearningRate: hp.LearningRate,
		Gamma:        hp.Gamma,
		EpsilonStart: hp.EpsilonStart,
		EpsilonMin:   hp.EpsilonMin,
		EpsilonDecay: hp.EpsilonDecay,
		BatchSize:    hp.BatchSize,
		Optimizer:    hp.Optimizer.String(),
	}
	record := model.RunRecord{
		VersionedRecord: storage.NewVersionedRecord(),
		ID:              runID,
		Scape:           snap.Scape,
		Tier:            snap.Tier,
		Preset:          req.Preset,
		Hyperparameters: runHP,
		Steps:           snap.Stats.Steps,
		Episodes:        snap.Stats.Episodes,
		FinalEpsilon:    snap.Stats.Epsilon,
		WinRate:         snap.Stats.WinRate,
		AvgRallyLength:  snap.Stats.AvgRallyLength,
		AvgReward:       snap.Stats.AvgEpisodeReward,
		SmoothedLoss:    snap.Stats.SmoothedLoss,
		Checkpoint:      req.SaveSlot,
		StartedAt:       started,
		FinishedAt:      finished,
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveLossHistory(ctx, runID, losses); err != nil {
		return TrainSummary{}, err
	}

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:           runID,
			Scape:           snap.Scape,
			Tier:            snap.Tier,
			Preset:          req.Preset,
			Hyperparameters: runHP,
			Steps:           req.Steps,
			ReplayCapacity:  snap.ReplayCap,
			WeightSeed:      cfg.WeightSeed,
			ActionSeed:      cfg.ActionSeed,
			ReplaySeed:      cfg.ReplaySeed,
			ScapeSeed:       cfg.ScapeSeed,
			Checkpoint:      req.SaveSlot,
			Builtin:         req.Builtin,
		},
		Run:         record,
		LossHistory: losses,
		Episodes:    session.Episodes(),
	})
	if err != nil {
		return TrainSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:        runID,
		Scape:        snap.Scape,
		Tier:         snap.Tier,
		Steps:        snap.Stats.Steps,
		Episodes:     snap.Stats.Episodes,
		WinRate:      snap.Stats.WinRate,
		SmoothedLoss: snap.Stats.SmoothedLoss,
		CreatedAtUTC: started.Format(time.RFC3339Nano),
	}); err != nil {
		return TrainSummary{}, err
	}

	c.log.Info("training finished", "run_id", runID, "episodes", snap.Stats.Episodes, "win_rate", snap.Stats.WinRate, "loss", snap.Stats.SmoothedLoss)
	return TrainSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Tier:         snap.Tier,
		Steps:        snap.Stats.Steps,
		Episodes:     snap.Stats.Episodes,
		WinRate:      snap.Stats.WinRate,
		BestWinRate:  snap.BestWinRate,
		Epsilon:      snap.Stats.Epsilon,
		SmoothedLoss: snap.Stats.SmoothedLoss,
		Loss:         stats.Summarize(losses),
		Checkpoint:   saved,
		Elapsed:      finished.Sub(started),
	}, nil
}

// Evaluate plays greedy episodes with a checkpoint, a builtin or fresh
// weights, in that order of preference.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	if req.Checkpoint != "" && req.Builtin != "" {
		return EvaluateSummary{}, errors.New("use either checkpoint or builtin")
	}
	if req.Episodes <= 0 {
		req.Episodes = defaultEvalEpisodes
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = defaultEvalSteps
	}

	session, err := c.OpenSession(ctx, TrainRequest{
		Scape:   req.Scape,
		Tier:    req.Tier,
		Resume:  req.Checkpoint,
		Builtin: req.Builtin,
	})
	if err != nil {
		return EvaluateSummary{}, err
	}
	fitness, trace, err := session.Evaluate(ctx, req.Episodes, req.MaxSteps, req.Seed)
	if err != nil {
		return EvaluateSummary{}, err
	}

	source := "fresh"
	switch {
	case req.Checkpoint != "":
		source = "checkpoint:" + req.Checkpoint
	case req.Builtin != "":
		source = "builtin:" + req.Builtin
	}
	report := stats.NewEvaluationReport(req.RunID, session.ScapeName(), source, trace)
	summary := EvaluateSummary{Fitness: float64(fitness), Report: report}
	if req.RunID != "" {
		path, err := stats.WriteEvaluationReport(c.runsDir, report)
		if err != nil {
			return EvaluateSummary{}, err
		}
		summary.ReportPath = path
	}
	return summary, nil
}

func (c *Client) Checkpoints(ctx context.Context) ([]model.CheckpointInfo, error) {
	return c.store.ListCheckpoints(ctx)
}

func (c *Client) CheckpointInfo(ctx context.Context, slot string) (model.CheckpointInfo, error) {
	checkpoint, ok, err := c.store.GetCheckpoint(ctx, slot)
	if err != nil {
		return model.CheckpointInfo{}, err
	}
	if !ok {
		return model.CheckpointInfo{}, fmt.Errorf("%w: %s", ErrCheckpointNotFound, slot)
	}
	return model.CheckpointInfo{
		Slot:    checkpoint.Slot,
		Header:  checkpoint.Header,
		Size:    storage.HeaderSize + len(checkpoint.Weights),
		SavedAt: checkpoint.SavedAt,
	}, nil
}

func (c *Client) DeleteCheckpoint(ctx context.Context, slot string) error {
	return c.store.DeleteCheckpoint(ctx, slot)
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		item := RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Scape:        e.Scape,
			Tier:         e.Tier,
			Steps:        e.Steps,
			Episodes:     e.Episodes,
			WinRate:      e.WinRate,
			SmoothedLoss: e.SmoothedLoss,
		}
		report, ok, err := stats.ReadEvaluationReport(c.runsDir, e.RunID)
		if err != nil {
			return nil, err
		}
		if ok {
			winRate := report.WinRate
			item.EvalWinRate = &winRate
		}
		out = append(out, item)
	}
	return out, nil
}

// Run returns a stored run record with its loss curve.
func (c *Client) Run(ctx context.Context, runID string) (model.RunRecord, []float32, error) {
	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, nil, err
	}
	if !ok {
		return model.RunRecord{}, nil, fmt.Errorf("run not found: %s", runID)
	}
	losses, _, err := c.store.GetLossHistory(ctx, runID)
	if err != nil {
		return model.RunRecord{}, nil, err
	}
	return record, losses, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}
