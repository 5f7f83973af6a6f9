package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"neuron/internal/model"
)

const (
	SaveMagic   = "NRNN"
	SaveVersion = 0x0100

	// HeaderSize is the on-disk header length; fields occupy the first 52
	// bytes and the rest is zero padding.
	HeaderSize = 256
)

var (
	ErrBadMagic     = errors.New("checkpoint magic mismatch")
	ErrCorrupt      = errors.New("checkpoint checksum mismatch")
	ErrTruncated    = errors.New("checkpoint truncated")
	ErrTierMismatch = errors.New("checkpoint tier mismatch")
)

var byteOrder = binary.BigEndian

// Checksum is the CRC32 (IEEE) of a weight stream.
func Checksum(weights []byte) uint32 {
	return crc32.ChecksumIEEE(weights)
}

// EncodeCheckpoint writes header followed by weights. The header's magic,
// version and checksum are filled in here.
func EncodeCheckpoint(header model.SaveHeader, weights []byte) []byte {
	header.Version = SaveVersion
	header.Checksum = Checksum(weights)

	buf := make([]byte, HeaderSize+len(weights))
	encodeHeader(buf[:HeaderSize], header)
	copy(buf[HeaderSize:], weights)
	return buf
}

func encodeHeader(dst []byte, h model.SaveHeader) {
	copy(dst[0:4], SaveMagic)
	byteOrder.PutUint16(dst[4:], h.Version)
	dst[6] = h.Tier
	dst[7] = 0
	byteOrder.PutUint32(dst[8:], h.Episodes)
	byteOrder.PutUint32(dst[12:], h.Steps)
	byteOrder.PutUint32(dst[16:], h.TrainingSeconds)
	putFloat(dst[20:], h.BestWinRate)
	putFloat(dst[24:], h.Epsilon)
	putFloat(dst[28:], h.LearningRate)
	putFloat(dst[32:], h.Gamma)
	putFloat(dst[36:], h.EpsilonMin)
	putFloat(dst[40:], h.EpsilonDecay)
	byteOrder.PutUint16(dst[44:], h.BatchSize)
	byteOrder.PutUint16(dst[46:], 0)
	byteOrder.PutUint32(dst[48:], h.Checksum)
}

// DecodeHeader reads and validates the fixed header only.
func DecodeHeader(data []byte) (model.SaveHeader, error) {
	if len(data) < HeaderSize {
		return model.SaveHeader{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncated, HeaderSize, len(data))
	}
	if string(data[0:4]) != SaveMagic {
		return model.SaveHeader{}, fmt.Errorf("%w: %q", ErrBadMagic, data[0:4])
	}
	h := model.SaveHeader{
		Version:         byteOrder.Uint16(data[4:]),
		Tier:            data[6],
		Episodes:        byteOrder.Uint32(data[8:]),
		Steps:           byteOrder.Uint32(data[12:]),
		TrainingSeconds: byteOrder.Uint32(data[16:]),
		BestWinRate:     getFloat(data[20:]),
		Epsilon:         getFloat(data[24:]),
		LearningRate:    getFloat(data[28:]),
		Gamma:           getFloat(data[32:]),
		EpsilonMin:      getFloat(data[36:]),
		EpsilonDecay:    getFloat(data[40:]),
		BatchSize:       byteOrder.Uint16(data[44:]),
		Checksum:        byteOrder.Uint32(data[48:]),
	}
	if h.Version != SaveVersion {
		return model.SaveHeader{}, fmt.Errorf("%w: save version 0x%04x", ErrVersionMismatch, h.Version)
	}
	return h, nil
}

// DecodeCheckpoint splits a save file into header and weight stream and
// verifies the checksum. The weight slice aliases data.
func DecodeCheckpoint(data []byte) (model.SaveHeader, []byte, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return model.SaveHeader{}, nil, err
	}
	weights := data[HeaderSize:]
	if len(weights) == 0 {
		return model.SaveHeader{}, nil, fmt.Errorf("%w: no weight stream", ErrTruncated)
	}
	if sum := Checksum(weights); sum != h.Checksum {
		return model.SaveHeader{}, nil, fmt.Errorf("%w: header 0x%08x computed 0x%08x", ErrCorrupt, h.Checksum, sum)
	}
	return h, weights, nil
}

func putFloat(dst []byte, v float32) {
	byteOrder.PutUint32(dst, math.Float32bits(v))
}

func getFloat(src []byte) float32 {
	return math.Float32frombits(byteOrder.Uint32(src))
}
