package training

const (
	LossHistorySize = 1000

	emaKeep float32 = 0.99
	emaPull float32 = 0.01

	minLossSpan float32 = 0.1
)

// LossHistory is a ring of recent batch losses with a running sum and an
// exponential moving average that is independent of the ring contents.
type LossHistory struct {
	values   []float32
	head     int
	count    int
	sum      float32
	smoothed float32
}

func NewLossHistory(capacity int) *LossHistory {
	if capacity < 1 {
		capacity = LossHistorySize
	}
	return &LossHistory{values: make([]float32, capacity)}
}

func (h *LossHistory) Add(loss float32) {
	if h.count == len(h.values) {
		h.sum -= h.values[h.head]
	}
	h.values[h.head] = loss
	h.sum += loss

	h.head = (h.head + 1) % len(h.values)
	if h.count < len(h.values) {
		h.count++
	}

	if h.count == 1 {
		h.smoothed = loss
	} else {
		h.smoothed = float32(h.smoothed*emaKeep) + float32(loss*emaPull)
	}
}

// At returns the i-th recorded loss, oldest first, or 0 when out of range.
func (h *LossHistory) At(i int) float32 {
	if i < 0 || i >= h.count {
		return 0
	}
	return h.values[h.position(i)]
}

func (h *LossHistory) position(i int) int {
	return (h.head - h.count + i + len(h.values)) % len(h.values)
}

func (h *LossHistory) Len() int { return h.count }

func (h *LossHistory) Cap() int { return len(h.values) }

func (h *LossHistory) Sum() float32 { return h.sum }

func (h *LossHistory) Mean() float32 {
	if h.count == 0 {
		return 0
	}
	return h.sum / float32(h.count)
}

func (h *LossHistory) Smoothed() float32 { return h.smoothed }

// Range reports the smallest and largest stored loss, widened so the span
// is at least 0.1. An empty history reports (0, 1).
func (h *LossHistory) Range() (lo, hi float32) {
	if h.count == 0 {
		return 0, 1
	}
	lo = h.At(0)
	hi = lo
	for i := 1; i < h.count; i++ {
		v := h.At(i)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi-lo < minLossSpan {
		hi = lo + minLossSpan
	}
	return lo, hi
}

// Values copies the stored losses, oldest first.
func (h *LossHistory) Values() []float32 {
	out := make([]float32, h.count)
	for i := range out {
		out[i] = h.At(i)
	}
	return out
}

func (h *LossHistory) Reset() {
	clear(h.values)
	h.head = 0
	h.count = 0
	h.sum = 0
	h.smoothed = 0
}
