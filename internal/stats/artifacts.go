package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"neuron/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig is the resolved configuration a training run started with.
type RunConfig struct {
	RunID           string                   `json:"run_id"`
	Scape           string                   `json:"scape"`
	Tier            string                   `json:"tier"`
	Preset          string                   `json:"preset,omitempty"`
	Hyperparameters model.RunHyperparameters `json:"hyperparameters"`
	Steps           int                      `json:"steps"`
	ReplayCapacity  int                      `json:"replay_capacity"`
	WeightSeed      uint32                   `json:"weight_seed"`
	ActionSeed      uint32                   `json:"action_seed"`
	ReplaySeed      uint32                   `json:"replay_seed"`
	ScapeSeed       uint32                   `json:"scape_seed"`
	Store           string                   `json:"store,omitempty"`
	Checkpoint      string                   `json:"checkpoint,omitempty"`
	Builtin         string                   `json:"builtin,omitempty"`
}

type RunArtifacts struct {
	Config      RunConfig             `json:"config"`
	Run         model.RunRecord       `json:"run"`
	LossHistory []float32             `json:"loss_history"`
	Episodes    []model.EpisodeRecord `json:"episodes,omitempty"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Scape        string  `json:"scape"`
	Tier         string  `json:"tier"`
	Steps        int     `json:"steps"`
	Episodes     int     `json:"episodes"`
	WinRate      float32 `json:"win_rate"`
	SmoothedLoss float32 `json:"smoothed_loss"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

var artifactFiles = []string{"config.json", "run.json", "loss_history.json", "loss_history.csv", "episodes.csv"}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "run.json"), artifacts.Run); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "loss_history.json"), map[string]any{
		"values":  artifacts.LossHistory,
		"summary": Summarize(artifacts.LossHistory),
	}); err != nil {
		return "", err
	}
	if err := WriteLossSeries(runDir, artifacts.LossHistory); err != nil {
		return "", err
	}
	if err := WriteEpisodes(runDir, artifacts.Episodes); err != nil {
		return "", err
	}

	return runDir, nil
}

// AppendRunIndex adds entry to the run index, replacing any entry with the
// same run id in place. The file keeps insertion order.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	entries, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}
	replaced := false
	for i := range entries {
		if entries[i].RunID == entry.RunID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	return writeJSON(filepath.Join(baseDir, runIndexFile), entries)
}

// ListRunIndex returns the indexed runs newest first. Runs created at the
// same instant are ordered by most recent append.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	created := make([]time.Time, len(entries))
	order := make([]int, len(entries))
	for i, entry := range entries {
		created[i] = parseCreatedAt(entry.CreatedAtUTC)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := created[order[a]], created[order[b]]
		if ta.Equal(tb) {
			return order[a] > order[b]
		}
		return ta.After(tb)
	})

	sorted := make([]RunIndexEntry, len(order))
	for i, idx := range order {
		sorted[i] = entries[idx]
	}
	return sorted, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// parseCreatedAt reads an RFC 3339 timestamp with optional fractional
// seconds; unparseable values sort as the zero time.
func parseCreatedAt(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range artifactFiles {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	reportPath := filepath.Join(src, evaluationReportFile)
	if _, err := os.Stat(reportPath); err == nil {
		if err := copyFile(reportPath, filepath.Join(dst, evaluationReportFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func WriteLossSeries(runDir string, losses []float32) error {
	file, err := os.Create(filepath.Join(runDir, "loss_history.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"batch", "loss"}); err != nil {
		return err
	}
	for i, loss := range losses {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(float64(loss), 'f', -1, 32),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadLossSeries(baseDir, runID string) ([]float32, bool, error) {
	path := filepath.Join(baseDir, runID, "loss_history.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float32{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("loss series header must have at least 2 columns")
	}

	series := make([]float32, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("loss series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 32)
		if err != nil {
			return nil, false, err
		}
		series = append(series, float32(value))
	}
	return series, true, nil
}

func WriteEpisodes(runDir string, episodes []model.EpisodeRecord) error {
	file, err := os.Create(filepath.Join(runDir, "episodes.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"episode", "step", "agent_score", "opponent_score", "reward", "win_rate", "epsilon"}); err != nil {
		return err
	}
	for _, ep := range episodes {
		if err := writer.Write([]string{
			strconv.Itoa(ep.Episode),
			strconv.Itoa(ep.Step),
			strconv.Itoa(ep.AgentScore),
			strconv.Itoa(ep.OpponentScore),
			strconv.FormatFloat(float64(ep.Reward), 'f', -1, 32),
			strconv.FormatFloat(float64(ep.WinRate), 'f', -1, 32),
			strconv.FormatFloat(float64(ep.Epsilon), 'f', -1, 32),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
