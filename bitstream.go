package douki

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/icza/bitio"
)

// ErrShortBuffer is reported by a BitReader that ran out of input.
var ErrShortBuffer = errors.New("douki: bit stream too short")

// BitWriter appends bit-granular fields to an in-memory buffer. Write errors
// are sticky: after the first failure every further write is a no-op and Err
// reports the failure.
type BitWriter struct {
	buf  bytes.Buffer
	w    *bitio.Writer
	bits int
}

// NewBitWriter returns an empty writer.
func NewBitWriter() *BitWriter {
	bw := &BitWriter{}
	bw.w = bitio.NewWriter(&bw.buf)
	return bw
}

// Reset discards all written bits and keeps the buffer's capacity.
func (bw *BitWriter) Reset() {
	bw.buf.Reset()
	bw.w = bitio.NewWriter(&bw.buf)
	bw.bits = 0
}

// WriteBit writes a single bit.
func (bw *BitWriter) WriteBit(b bool) {
	bw.w.TryWriteBool(b)
	bw.bits++
}

// WriteBits writes the low n bits of u, most significant first.
func (bw *BitWriter) WriteBits(u uint64, n uint8) {
	if n == 0 {
		return
	}
	bw.w.TryWriteBits(u, n)
	bw.bits += int(n)
}

// WriteFloat32 writes the IEEE-754 bits of f.
func (bw *BitWriter) WriteFloat32(f float32) {
	bw.WriteBits(uint64(math.Float32bits(f)), 32)
}

// BitLen is the number of bits written so far.
func (bw *BitWriter) BitLen() int { return bw.bits }

// Err returns the first write failure.
func (bw *BitWriter) Err() error { return bw.w.TryError }

// Bytes pads the stream to a byte boundary and returns the encoded bytes.
// The slice aliases the writer's buffer until the next Reset.
func (bw *BitWriter) Bytes() ([]byte, error) {
	if bw.w.TryError != nil {
		return nil, bw.w.TryError
	}
	if _, err := bw.w.Align(); err != nil {
		return nil, fmt.Errorf("align bit stream: %w", err)
	}
	return bw.buf.Bytes(), nil
}

// BitReader consumes fields written by a BitWriter. Like the writer, errors
// are sticky and reads after a failure return zero values.
type BitReader struct {
	r *bitio.Reader
}

// NewBitReader reads from data.
func NewBitReader(data []byte) *BitReader {
	return &BitReader{r: bitio.NewReader(bytes.NewReader(data))}
}

// ReadBit reads a single bit.
func (br *BitReader) ReadBit() bool {
	return br.r.TryReadBool()
}

// ReadBits reads n bits, most significant first.
func (br *BitReader) ReadBits(n uint8) uint64 {
	if n == 0 {
		return 0
	}
	return br.r.TryReadBits(n)
}

// ReadFloat32 reads the IEEE-754 bits of a float32.
func (br *BitReader) ReadFloat32() float32 {
	return math.Float32frombits(uint32(br.ReadBits(32)))
}

// Err returns ErrShortBuffer when input ran out, or the first other failure.
func (br *BitReader) Err() error {
	err := br.r.TryError
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShortBuffer
	}
	return err
}
