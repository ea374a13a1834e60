package ovf2

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Frame is one timestep's decoded vector field on an (X, Y, Z) lattice
// with three components per node.
//
// The file stores samples with x incrementing fastest, then y, then z.
// Frame keeps that flat order and presents the canonical (X, Y, Z, 3)
// view through strided index arithmetic, so the binary modes stay a
// zero-copy view onto the file mapping.  A frame backed by a mapping
// is only valid until Close.
type Frame struct {
	fname      string
	nx, ny, nz int
	wordSize   int

	raw  []byte    // binary modes: little-endian samples, 3*N words
	vals []float32 // Text mode: parsed samples

	mm   mmap.MMap // owning mapping, nil for Text mode
	file *os.File
}

// Dims returns the lattice node counts (xnodes, ynodes, znodes).
func (fr *Frame) Dims() (nx, ny, nz int) {
	return fr.nx, fr.ny, fr.nz
}

// NumNodes returns xnodes*ynodes*znodes.
func (fr *Frame) NumNodes() int {
	return fr.nx * fr.ny * fr.nz
}

// WordSize returns the storage width of one sample in bytes: 4 for
// Text and Binary 4 frames, 8 for Binary 8 frames.
func (fr *Frame) WordSize() int {
	return fr.wordSize
}

// flat returns the index of component c of node (x, y, z) in storage
// order.
func (fr *Frame) flat(x, y, z, c int) int {
	return ((z*fr.ny+y)*fr.nx+x)*3 + c
}

func (fr *Frame) sample(i int) float64 {
	if fr.vals != nil {
		return float64(fr.vals[i])
	}
	if fr.wordSize == 4 {
		bits := binary.LittleEndian.Uint32(fr.raw[4*i:])
		return float64(math.Float32frombits(bits))
	}
	bits := binary.LittleEndian.Uint64(fr.raw[8*i:])
	return math.Float64frombits(bits)
}

// At returns component c (0..2) of the node at (x, y, z).
func (fr *Frame) At(x, y, z, c int) float64 {
	return fr.sample(fr.flat(x, y, z, c))
}

// Vector returns the 3-vector at node (x, y, z).
func (fr *Frame) Vector(x, y, z int) [3]float64 {
	i := fr.flat(x, y, z, 0)
	return [3]float64{fr.sample(i), fr.sample(i + 1), fr.sample(i + 2)}
}

// Fill32 reorders the frame into dst laid out as a C-order (X, Y, Z, 3)
// array.  dst must have exactly 3*NumNodes elements.  Binary 8 samples
// are narrowed to float32.
func (fr *Frame) Fill32(dst []float32) {
	if len(dst) != 3*fr.NumNodes() {
		panic("ovf2: Fill32 destination has wrong length")
	}
	i := 0
	for z := 0; z < fr.nz; z++ {
		for y := 0; y < fr.ny; y++ {
			for x := 0; x < fr.nx; x++ {
				d := ((x*fr.ny+y)*fr.nz + z) * 3
				dst[d] = float32(fr.sample(i))
				dst[d+1] = float32(fr.sample(i + 1))
				dst[d+2] = float32(fr.sample(i + 2))
				i += 3
			}
		}
	}
}

// Fill64 is Fill32 with float64 elements.
func (fr *Frame) Fill64(dst []float64) {
	if len(dst) != 3*fr.NumNodes() {
		panic("ovf2: Fill64 destination has wrong length")
	}
	i := 0
	for z := 0; z < fr.nz; z++ {
		for y := 0; y < fr.ny; y++ {
			for x := 0; x < fr.nx; x++ {
				d := ((x*fr.ny+y)*fr.nz + z) * 3
				dst[d] = fr.sample(i)
				dst[d+1] = fr.sample(i + 1)
				dst[d+2] = fr.sample(i + 2)
				i += 3
			}
		}
	}
}

// Close releases the file mapping backing a binary frame.  The frame's
// values must not be used afterwards.
func (fr *Frame) Close() error {
	if fr.mm == nil {
		return nil
	}
	fr.raw = nil
	err := fr.mm.Unmap()
	fr.mm = nil
	err2 := fr.file.Close()
	fr.file = nil
	if err == nil {
		err = err2
	}
	return err
}
