package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuron/internal/nn"
	"neuron/internal/replay"
)

func minimalNetwork(t *testing.T) *nn.Network {
	t.Helper()
	net, err := nn.NewForTier(nn.TierMinimal)
	require.NoError(t, err)
	return net
}

func sampleTransition(action int, reward float32, done bool) replay.Transition {
	return replay.Transition{
		State:     []float32{0.2, 0.4, 0.1, -0.3, 0.5, 0.7},
		Action:    action,
		Reward:    reward,
		NextState: []float32{0.25, 0.35, 0.1, -0.2, 0.5, 0.6},
		Done:      done,
	}
}

func TestTrainBatch_NotReadyIsNoOp(t *testing.T) {
	net := minimalNetwork(t)
	before, err := net.MarshalBinary()
	require.NoError(t, err)

	buf, err := replay.New(64, nn.StateSize)
	require.NoError(t, err)
	for i := 0; i < 31; i++ {
		require.NoError(t, buf.Add(sampleTransition(i%3, 1, false)))
	}

	s := newState(t, nil)
	loss, err := s.TrainBatch(net, buf)
	require.NoError(t, err)
	assert.Zero(t, loss)

	after, err := net.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Zero(t, net.Step())
}

func TestTrainBatch_TerminalTargetIsReward(t *testing.T) {
	net := minimalNetwork(t)
	tr := sampleTransition(2, 1.5, true)

	q := make([]float32, nn.ActionCount)
	require.NoError(t, net.QValues(tr.State, q))
	td := tr.Reward - q[tr.Action]

	buf, err := replay.New(4, nn.StateSize)
	require.NoError(t, err)
	require.NoError(t, buf.Add(tr))

	s := newState(t, func(h *Hyperparameters) { h.BatchSize = 1 })
	loss, err := s.TrainBatch(net, buf)
	require.NoError(t, err)
	assert.InDelta(t, td*td, loss, 1e-5)
	assert.Equal(t, 1, net.Step())
}

func TestTrainBatch_BootstrapsFromNextState(t *testing.T) {
	net := minimalNetwork(t)
	tr := sampleTransition(0, 0.25, false)

	q := make([]float32, nn.ActionCount)
	next := make([]float32, nn.ActionCount)
	require.NoError(t, net.QValues(tr.State, q))
	require.NoError(t, net.QValues(tr.NextState, next))
	best := next[0]
	for _, v := range next[1:] {
		if v > best {
			best = v
		}
	}
	gamma := DefaultHyperparameters().Gamma
	td := tr.Reward + gamma*best - q[tr.Action]

	buf, err := replay.New(4, nn.StateSize)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, buf.Add(tr))
	}

	s := newState(t, func(h *Hyperparameters) { h.BatchSize = 4 })
	loss, err := s.TrainBatch(net, buf)
	require.NoError(t, err)
	assert.InDelta(t, td*td, loss, 1e-5)
}

func TestTrainBatch_GradientsAreBatchMean(t *testing.T) {
	tr := sampleTransition(1, 2, true)

	single := minimalNetwork(t)
	require.NoError(t, single.Forward(tr.State, nil))
	q := make([]float32, nn.ActionCount)
	require.NoError(t, single.QValues(tr.State, q))
	require.NoError(t, single.Backward(tr.Action, tr.Reward-q[tr.Action]))
	want := single.BiasGradient(2, tr.Action)

	net := minimalNetwork(t)
	buf, err := replay.New(8, nn.StateSize)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, buf.Add(tr))
	}
	s := newState(t, func(h *Hyperparameters) { h.BatchSize = 8 })
	_, err = s.TrainBatch(net, buf)
	require.NoError(t, err)

	// eight identical samples averaged give the single-sample gradient
	assert.InDelta(t, want, net.BiasGradient(2, tr.Action), 1e-5)
}

func TestTrainBatch_RepeatedUpdatesReduceLoss(t *testing.T) {
	for _, opt := range []nn.Optimizer{nn.SGD, nn.Adam} {
		t.Run(opt.String(), func(t *testing.T) {
			net := minimalNetwork(t)
			buf, err := replay.New(16, nn.StateSize)
			require.NoError(t, err)
			for i := 0; i < 16; i++ {
				require.NoError(t, buf.Add(sampleTransition(1, -1, true)))
			}

			s := newState(t, func(h *Hyperparameters) {
				h.BatchSize = 16
				h.Optimizer = opt
				h.LearningRate = 0.01
			})
			first, err := s.TrainBatch(net, buf)
			require.NoError(t, err)
			var last float32
			for i := 0; i < 100; i++ {
				last, err = s.TrainBatch(net, buf)
				require.NoError(t, err)
			}
			assert.Less(t, last, first)
		})
	}
}

func TestTrainBatch_BadActionClearsGradients(t *testing.T) {
	net := minimalNetwork(t)
	before, err := net.MarshalBinary()
	require.NoError(t, err)

	buf, err := replay.New(2, nn.StateSize)
	require.NoError(t, err)
	require.NoError(t, buf.Add(sampleTransition(7, 1, true)))

	s := newState(t, func(h *Hyperparameters) { h.BatchSize = 1 })
	_, err = s.TrainBatch(net, buf)
	require.ErrorIs(t, err, nn.ErrActionRange)

	after, err := net.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	for j := 0; j < nn.ActionCount; j++ {
		assert.Zero(t, net.BiasGradient(2, j))
	}
	assert.Zero(t, net.Step())
}

func TestTrainBatch_StateWidthMismatch(t *testing.T) {
	net := minimalNetwork(t)
	buf, err := replay.New(2, 2)
	require.NoError(t, err)
	require.NoError(t, buf.Add(replay.Transition{State: []float32{1, 2}, NextState: []float32{1, 2}}))

	s := newState(t, func(h *Hyperparameters) { h.BatchSize = 1 })
	_, err = s.TrainBatch(net, buf)
	require.ErrorIs(t, err, nn.ErrInputWidth)
}
