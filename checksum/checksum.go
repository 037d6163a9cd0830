// Package checksum provides running CRC-32 and Adler-32 accumulators and
// stream decorators that thread an accumulator through reads and writes.
package checksum

import (
	"hash"
	"hash/adler32"
	"hash/crc32"
)

// Accumulator is a running checksum.
type Accumulator interface {
	// UpdateByte adds a single byte.
	UpdateByte(b byte)
	// Update adds p, in order.
	Update(p []byte)
	// Value returns the checksum of everything added since the last Reset.
	Value() uint32
	// Reset returns the accumulator to its initial state.
	Reset()
}

type hashAccumulator struct {
	h   hash.Hash32
	one [1]byte
}

// NewCRC32 returns an Accumulator computing the IEEE CRC-32 used by ZIP and
// GZIP.
func NewCRC32() Accumulator {
	return &hashAccumulator{h: crc32.NewIEEE()}
}

// NewAdler32 returns an Accumulator computing Adler-32, as used by zlib.
func NewAdler32() Accumulator {
	return &hashAccumulator{h: adler32.New()}
}

func (a *hashAccumulator) UpdateByte(b byte) {
	a.one[0] = b
	a.h.Write(a.one[:]) // hash.Hash never returns an error
}

func (a *hashAccumulator) Update(p []byte) {
	a.h.Write(p)
}

func (a *hashAccumulator) Value() uint32 { return a.h.Sum32() }

func (a *hashAccumulator) Reset() { a.h.Reset() }
