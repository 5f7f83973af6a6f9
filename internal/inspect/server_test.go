package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuron/internal/nn"
	"neuron/internal/platform"
	"neuron/internal/training"
)

func newTestServer(t *testing.T, steps int) (*Server, *platform.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hp := training.DefaultHyperparameters()
	hp.BatchSize = 8
	tier := nn.TierMinimal
	session, err := platform.NewSession(platform.Config{
		Scape:           "target",
		Tier:            &tier,
		Hyperparameters: hp,
		ReplayCapacity:  128,
	})
	require.NoError(t, err)
	if steps > 0 {
		require.NoError(t, session.Run(context.Background(), steps, platform.ModeTrain))
	}
	return New(session, nil), session
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, 0)
	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "target", body["scape"])
	assert.Equal(t, "minimal", body["tier"])
}

func TestProcessUsageReportsResidentMemory(t *testing.T) {
	usage, err := ProcessUsage()
	if err != nil {
		t.Skipf("process stats unavailable: %v", err)
	}
	assert.Positive(t, usage.RSS)
	assert.GreaterOrEqual(t, usage.VMS, usage.RSS)
}

func TestNetworkDescribesEveryLayer(t *testing.T) {
	s, _ := newTestServer(t, 20)
	rec := do(t, s, http.MethodGet, "/network", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view NetworkView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "minimal", view.Tier)
	assert.Equal(t, []int{6, 16, 3}, view.Sizes)
	assert.Equal(t, 6*16+16+16*3+3, view.Parameters)
	assert.Equal(t, 13, view.UpdateSteps)
	require.Len(t, view.Layers, 2)
	assert.Equal(t, 6, view.Layers[0].Inputs)
	assert.Equal(t, 16, view.Layers[0].Neurons)
	assert.Equal(t, 6*16, view.Layers[0].Weights.Count)
	assert.Equal(t, 16*3, view.Layers[1].Weights.Count)
	assert.Equal(t, 3, view.Layers[1].Biases.Count)
	assert.Greater(t, view.Layers[0].Weights.StdDev, 0.0)
}

func TestActivationsMatchTopology(t *testing.T) {
	s, _ := newTestServer(t, 0)
	state := []float32{0.1, 0.6, 0.5, 0, 0, 0}
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/q-values", QValuesRequest{State: state}).Code)

	rec := do(t, s, http.MethodGet, "/activations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Layers [][]float32 `json:"layers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Layers, 3)
	assert.Equal(t, state, body.Layers[0])
	assert.Len(t, body.Layers[1], 16)
	assert.Len(t, body.Layers[2], 3)
}

func TestStatsReportsSnapshot(t *testing.T) {
	s, _ := newTestServer(t, 30)
	rec := do(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap platform.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 30, snap.Stats.Steps)
	assert.Equal(t, 30, snap.ReplayLen)
	assert.Equal(t, 128, snap.ReplayCap)
	assert.Equal(t, 23, snap.Stats.LossSamples)
}

func TestLoss(t *testing.T) {
	s, session := newTestServer(t, 40)
	rec := do(t, s, http.MethodGet, "/loss?window=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view LossView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, session.LossHistory(), view.Values)
	assert.Equal(t, 33, view.Summary.Count)
	assert.Equal(t, 10, view.Window)
	assert.Len(t, view.Windows, 4)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/loss?window=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/loss?window=abc", nil).Code)
}

func TestQValues(t *testing.T) {
	s, session := newTestServer(t, 0)
	state := []float32{-0.5, 0.5, 1, 0, 0, 0}

	rec := do(t, s, http.MethodPost, "/q-values", QValuesRequest{State: state})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp QValuesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	want, err := session.QValues(state)
	require.NoError(t, err)
	assert.Equal(t, want, resp.QValues)
	for _, q := range resp.QValues {
		assert.LessOrEqual(t, q, resp.QValues[resp.BestAction])
	}
}

func TestQValuesRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t, 0)

	rec := do(t, s, http.MethodPost, "/q-values", QValuesRequest{State: []float32{1, 2}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "input width")

	req := httptest.NewRequest(http.MethodPost, "/q-values", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	s.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
