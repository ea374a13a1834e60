// Package series aggregates a simulation folder of per-timestep OVF
// files into a single HDF5 container and reads it back.
//
// The container holds one chunked dataset with the whole field stack
// laid out time-major as (T, X, Y, Z, 3), a (T,) time vector, and the
// schema-known header fields of the first frame as attributes.  It is
// built once per folder and reused by later reads.
package series

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/robert-malhotra/go-hdf5/hdf5"
	"github.com/schollz/progressbar/v3"

	"github.com/batchatco/go-native-ovf/internal"
	"github.com/batchatco/go-native-ovf/ovf/ovf2"
)

const (
	// DefaultContainerName is the container file created inside the
	// simulation folder.
	DefaultContainerName = "m.h5"

	fieldDataset = "magnetization"
	timeDataset  = "time"
	shapeAttr    = "shape"
)

var (
	ErrNoInputFiles         = errors.New("no OVF files found")
	ErrInconsistentMetadata = errors.New("inconsistent metadata across frames")
	ErrShapeMismatch        = errors.New("container shape mismatch")
	ErrInsufficientMemory   = errors.New("insufficient memory")
	ErrNoContainer          = errors.New("container not built")
)

var logger = internal.NewLogger()

type options struct {
	name           string
	buildIfMissing bool
	rebuild        bool
	progress       bool
}

type Option func(*options)

// WithContainerName overrides the container file name inside the
// folder.
func WithContainerName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithRebuild forces Read to rebuild the container even if one exists.
func WithRebuild() Option {
	return func(o *options) { o.rebuild = true }
}

// WithBuildIfMissing controls whether Read may build a missing
// container (default true).  With false, Read fails with
// ErrNoContainer instead.
func WithBuildIfMissing(build bool) Option {
	return func(o *options) { o.buildIfMissing = build }
}

// WithProgress displays a per-file progress bar while building.
func WithProgress() Option {
	return func(o *options) { o.progress = true }
}

func getOptions(opts []Option) options {
	o := options{name: DefaultContainerName, buildIfMissing: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Build reads every OVF file under fdn in lexicographic order and
// writes the container.  The build is all-or-nothing: frames are
// decoded into a temporary file which is renamed into place only after
// every frame has been read, checked against the first frame's
// metadata, and stored.  Any per-file failure aborts the whole build
// and removes the temporary file.
func Build(fdn string, opts ...Option) error {
	o := getOptions(opts)

	files, err := collectFiles(fdn)
	if err != nil {
		return err
	}

	hdr0, fr0, err := ovf2.ReadFrame(files[0])
	if err != nil {
		return err
	}
	nx, ny, nz := fr0.Dims()
	frameLen := 3 * fr0.NumNodes()
	wordSize := fr0.WordSize()
	nt := len(files)

	if err := checkMemory(uint64(nt) * uint64(frameLen) * uint64(wordSize)); err != nil {
		fr0.Close()
		return err
	}

	// The first frame fixes the lattice, the element type and the
	// baseline metadata every later frame must agree with.
	meta := hdr0.KnownSubset()
	times := make([]float64, nt)
	times[0] = frameTime(hdr0, files[0])

	var f32 []float32
	var f64 []float64
	if wordSize == 8 {
		f64 = make([]float64, nt*frameLen)
		fr0.Fill64(f64[:frameLen])
	} else {
		f32 = make([]float32, nt*frameLen)
		fr0.Fill32(f32[:frameLen])
	}
	fr0.Close()

	var bar *progressbar.ProgressBar
	if o.progress {
		bar = progressbar.Default(int64(nt), "parsing OVF files under "+fdn)
		bar.Add(1)
	}

	for i := 1; i < nt; i++ {
		hdr, fr, err := ovf2.ReadFrame(files[i])
		if err != nil {
			return err
		}
		if err := checkConsistent(meta, hdr, files[0], files[i]); err != nil {
			fr.Close()
			return err
		}
		if f64 != nil {
			fr.Fill64(f64[i*frameLen : (i+1)*frameLen])
		} else {
			fr.Fill32(f32[i*frameLen : (i+1)*frameLen])
		}
		times[i] = frameTime(hdr, files[i])
		if err := fr.Close(); err != nil {
			return err
		}
		if bar != nil {
			bar.Add(1)
		}
	}

	return writeContainer(filepath.Join(fdn, o.name), meta, times,
		nx, ny, nz, frameLen, f32, f64)
}

// checkConsistent compares every schema-known field present in both the
// baseline and the current header.
func checkConsistent(base *ovf2.Header, hdr *ovf2.Header, basePath, path string) error {
	for _, key := range base.Keys() {
		baseVal, _ := base.Get(key)
		val, has := hdr.Get(key)
		if has && val != baseVal {
			return fmt.Errorf("%w: %q: %v in %s vs %v in %s",
				ErrInconsistentMetadata, key, val, path, baseVal, basePath)
		}
	}
	return nil
}

// writeContainer writes the datasets into <path>.tmp and renames the
// result into place, so a crashed or failed build never leaves a file
// that passes for a complete container.
func writeContainer(path string, meta *ovf2.Header, times []float64,
	nx, ny, nz, frameLen int, f32 []float32, f64 []float64) (err error) {

	tmp := path + ".tmp"
	f, err := hdf5.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	// One chunk per frame, for whole-frame time slicing.
	dsOpts := []hdf5.DatasetOption{
		hdf5.WithChunks(uint64(frameLen)),
		hdf5.WithAttribute(shapeAttr,
			[]int64{int64(len(times)), int64(nx), int64(ny), int64(nz), 3}),
	}
	for _, key := range meta.Keys() {
		val, _ := meta.Get(key)
		if i, ok := val.(int); ok {
			val = int64(i)
		}
		dsOpts = append(dsOpts, hdf5.WithAttribute(key, val))
	}

	if f64 != nil {
		_, err = f.Root().CreateDataset(fieldDataset, f64, dsOpts...)
	} else {
		_, err = f.Root().CreateDataset(fieldDataset, f32, dsOpts...)
	}
	if err != nil {
		return err
	}
	if _, err = f.Root().CreateDataset(timeDataset, times); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
