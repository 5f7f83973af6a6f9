package nn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrBufferTooSmall       = errors.New("serialization buffer too small")
	ErrArchitectureMismatch = errors.New("architecture mismatch")
	ErrTruncated            = errors.New("weight stream truncated")
)

// ByteOrder of the weight stream.
var ByteOrder = binary.BigEndian

// SerializedSize is the exact length of the stream produced by Serialize.
func (n *Network) SerializedSize() int {
	return 4 + 4*len(n.sizes) + 4*parameterCount(n.sizes)
}

// Serialize writes the layer count, each layer width and then, for every
// layer after the input, its weight matrix followed by its biases.
func (n *Network) Serialize(dst []byte) (int, error) {
	size := n.SerializedSize()
	if len(dst) < size {
		return 0, fmt.Errorf("%w: got %d want %d", ErrBufferTooSmall, len(dst), size)
	}

	off := 0
	putInt := func(v int) {
		ByteOrder.PutUint32(dst[off:], uint32(int32(v)))
		off += 4
	}
	putFloats := func(values []float32) {
		for _, v := range values {
			ByteOrder.PutUint32(dst[off:], math.Float32bits(v))
			off += 4
		}
	}

	putInt(len(n.sizes))
	for _, width := range n.sizes {
		putInt(width)
	}
	for l := 1; l < len(n.sizes); l++ {
		putFloats(n.layers[l].weights)
		putFloats(n.layers[l].biases)
	}
	return off, nil
}

func (n *Network) MarshalBinary() ([]byte, error) {
	buf := make([]byte, n.SerializedSize())
	if _, err := n.Serialize(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// UnmarshalBinary loads weights and biases written by Serialize. The stream
// must describe exactly this network's topology. Nothing is modified unless
// the whole stream validates; on success display weights are resynced.
func (n *Network) UnmarshalBinary(data []byte) error {
	sizes, off, err := DecodeTopology(data)
	if err != nil {
		return err
	}
	if !equalSizes(sizes, n.sizes) {
		return fmt.Errorf("%w: stream %v network %v", ErrArchitectureMismatch, sizes, n.sizes)
	}
	need := off + 4*parameterCount(n.sizes)
	if len(data) < need {
		return fmt.Errorf("%w: got %d bytes want %d", ErrTruncated, len(data), need)
	}

	readFloats := func(dst []float32) {
		for i := range dst {
			dst[i] = math.Float32frombits(ByteOrder.Uint32(data[off:]))
			off += 4
		}
	}
	for l := 1; l < len(n.sizes); l++ {
		readFloats(n.layers[l].weights)
		readFloats(n.layers[l].biases)
	}
	n.syncDisplay()
	return nil
}

// DecodeTopology reads the layer widths at the head of a weight stream and
// returns them with the offset of the first weight.
func DecodeTopology(data []byte) ([]int, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("%w: missing layer count", ErrTruncated)
	}
	count := int(int32(ByteOrder.Uint32(data)))
	if count < 2 || count > MaxLayers {
		return nil, 0, fmt.Errorf("%w: layer count %d", ErrArchitectureMismatch, count)
	}
	off := 4
	if len(data) < off+4*count {
		return nil, 0, fmt.Errorf("%w: missing layer widths", ErrTruncated)
	}
	sizes := make([]int, count)
	for i := range sizes {
		sizes[i] = int(int32(ByteOrder.Uint32(data[off:])))
		off += 4
	}
	return sizes, off, nil
}
