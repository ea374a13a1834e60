package series

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/robert-malhotra/go-hdf5/hdf5"

	"github.com/batchatco/go-native-ovf/ovf/ovf2"
)

// Result is a fully loaded container: the field stack, the time
// vector and the first frame's metadata.
type Result struct {
	// Metadata holds the schema-known header fields of the first
	// frame of the series.
	Metadata *ovf2.Header
	// Time holds one simulation time per frame, NaN where none could
	// be derived.
	Time []float64

	nt, nx, ny, nz int
	f32            []float32
	f64            []float64
}

// Shape returns (T, X, Y, Z); the trailing component axis is always 3.
func (r *Result) Shape() (nt, nx, ny, nz int) {
	return r.nt, r.nx, r.ny, r.nz
}

func (r *Result) flat(t, x, y, z, c int) int {
	return (((t*r.nx+x)*r.ny+y)*r.nz+z)*3 + c
}

// At returns one component of the field at frame t and cell (x, y, z).
func (r *Result) At(t, x, y, z, c int) float64 {
	if r.f64 != nil {
		return r.f64[r.flat(t, x, y, z, c)]
	}
	return float64(r.f32[r.flat(t, x, y, z, c)])
}

// Float32 returns the flat single-precision stack, or nil for a
// double-precision container.
func (r *Result) Float32() []float32 { return r.f32 }

// Float64 returns the flat double-precision stack, or nil for a
// single-precision container.
func (r *Result) Float64() []float64 { return r.f64 }

// Read loads the container for the simulation folder fdn, building it
// first when it does not exist yet (see WithBuildIfMissing and
// WithRebuild).
func Read(fdn string, opts ...Option) (*Result, error) {
	o := getOptions(opts)

	path := filepath.Join(fdn, o.name)
	_, statErr := os.Stat(path)
	switch {
	case o.rebuild, statErr != nil && o.buildIfMissing:
		if err := Build(fdn, opts...); err != nil {
			return nil, err
		}
	case statErr != nil:
		return nil, fmt.Errorf("%w: %s", ErrNoContainer, path)
	}

	return openContainer(path)
}

func openContainer(path string) (*Result, error) {
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mset, err := f.OpenDataset(fieldDataset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrShapeMismatch, path, err)
	}
	tset, err := f.OpenDataset(timeDataset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrShapeMismatch, path, err)
	}
	times, err := tset.ReadFloat64()
	if err != nil {
		return nil, err
	}

	meta, shape, err := readMetadata(mset, path)
	if err != nil {
		return nil, err
	}
	nt, nx, ny, nz := int(shape[0]), int(shape[1]), int(shape[2]), int(shape[3])
	if nt != len(times) {
		return nil, fmt.Errorf("%w: %s: %d frames vs %d times",
			ErrShapeMismatch, path, nt, len(times))
	}
	want := uint64(nt) * uint64(nx) * uint64(ny) * uint64(nz) * 3
	if mset.NumElements() != want {
		return nil, fmt.Errorf("%w: %s: dataset holds %d elements, shape wants %d",
			ErrShapeMismatch, path, mset.NumElements(), want)
	}
	if err := checkMemory(want * uint64(mset.DtypeSize())); err != nil {
		return nil, err
	}

	res := &Result{Metadata: meta, Time: times, nt: nt, nx: nx, ny: ny, nz: nz}
	switch mset.DtypeSize() {
	case 8:
		res.f64, err = mset.ReadFloat64()
	default:
		res.f32, err = mset.ReadFloat32()
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// readMetadata converts the field dataset's attributes back into a
// header and validates the stored shape.
func readMetadata(mset *hdf5.Dataset, path string) (*ovf2.Header, []int64, error) {
	meta := ovf2.NewHeader()
	var shape []int64
	for _, name := range mset.Attrs() {
		attr := mset.Attr(name)
		if attr == nil {
			continue
		}
		val, err := attr.Value()
		if err != nil {
			logger.Warnf("%s: attribute %q: %s", path, name, err)
			continue
		}
		if name == shapeAttr {
			var ok bool
			if shape, ok = val.([]int64); !ok {
				return nil, nil, fmt.Errorf("%w: %s: bad %s attribute (%T)",
					ErrShapeMismatch, path, shapeAttr, val)
			}
			continue
		}
		if i, ok := val.(int64); ok {
			val = int(i)
		}
		meta.Add(name, val)
	}
	if len(shape) != 5 || shape[4] != 3 {
		return nil, nil, fmt.Errorf("%w: %s: stored shape %v",
			ErrShapeMismatch, path, shape)
	}
	for i, key := range []string{"xnodes", "ynodes", "znodes"} {
		if n, has := meta.Int(key); has && int64(n) != shape[i+1] {
			return nil, nil, fmt.Errorf("%w: %s: %s=%d but stored shape %v",
				ErrShapeMismatch, path, key, n, shape)
		}
	}
	return meta, shape, nil
}
