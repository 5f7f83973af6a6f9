package training

import (
	"fmt"

	"neuron/internal/nn"
	"neuron/internal/replay"
)

// TrainBatch performs one DQN update from BatchSize replayed transitions
// and returns the mean squared TD error. When the buffer holds fewer than
// BatchSize transitions the network is left untouched and the loss is 0.
//
// The state is forwarded a second time before Backward because the target
// forward pass overwrites the network's activation cache.
func (s *State) TrainBatch(net *nn.Network, buf *replay.Buffer) (float32, error) {
	batch := s.hp.BatchSize
	if !buf.Ready(batch) {
		return 0, nil
	}
	if buf.StateWidth() != net.InputSize() {
		return 0, fmt.Errorf("train batch: %w: buffer %d network %d", nn.ErrInputWidth, buf.StateWidth(), net.InputSize())
	}

	var q, next [nn.MaxNeuronsPerLayer]float32
	outputs := net.OutputSize()
	qValues := q[:outputs]
	nextQ := next[:outputs]

	net.ClearGradients()
	var total float32
	for b := 0; b < batch; b++ {
		t, err := buf.Sample()
		if err != nil {
			net.ClearGradients()
			return 0, fmt.Errorf("train batch sample %d: %w", b, err)
		}
		if err := net.Forward(t.State, qValues); err != nil {
			net.ClearGradients()
			return 0, fmt.Errorf("train batch sample %d: %w", b, err)
		}
		if t.Action < 0 || t.Action >= outputs {
			net.ClearGradients()
			return 0, fmt.Errorf("train batch sample %d: %w: %d", b, nn.ErrActionRange, t.Action)
		}

		target := t.Reward
		if !t.Done {
			if err := net.Forward(t.NextState, nextQ); err != nil {
				net.ClearGradients()
				return 0, fmt.Errorf("train batch sample %d: %w", b, err)
			}
			target = t.Reward + float32(s.hp.Gamma*maxOf(nextQ))
		}

		td := target - qValues[t.Action]
		total += float32(td * td)

		if err := net.Forward(t.State, nil); err != nil {
			net.ClearGradients()
			return 0, fmt.Errorf("train batch sample %d: %w", b, err)
		}
		if err := net.Backward(t.Action, td); err != nil {
			net.ClearGradients()
			return 0, fmt.Errorf("train batch sample %d: %w", b, err)
		}
	}

	net.ScaleGradients(1 / float32(batch))
	net.UpdateWeights(s.hp.LearningRate, s.hp.Optimizer)
	return total / float32(batch), nil
}

func maxOf(values []float32) float32 {
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
	}
	return best
}
