package series

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/batchatco/go-native-ovf/ovf/ovf2"
)

const testHeader = `# OOMMF OVF 2.0
# Segment count: 1
# Begin: Segment
# Begin: Header
# Title: relaxation
%s# meshunit: m
# meshtype: rectangular
# xmin: 0
# ymin: 0
# zmin: 0
# xmax: 3e-9
# ymax: 2e-9
# zmax: 2e-9
# valuedim: 3
# valuelabels: m_x m_y m_z
# valueunits: 1 1 1
# xstepsize: 1e-9
# ystepsize: 1e-9
# zstepsize: 1e-9
# xnodes: %d
# ynodes: %d
# znodes: %d
# End: Header
`

// frameValue is injective per (frame, node, component).
func frameValue(frame, x, y, z, c int) float64 {
	return float64(frame*1000 + ((z*2+y)*3+x)*3 + c)
}

func putFloat32(b *strings.Builder, f float32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
	b.Write(buf[:])
}

func putFloat64(b *strings.Builder, f float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	b.Write(buf[:])
}

// writeOVF writes one binary OVF 2.0 dump of a 3x2x2 lattice.
// descLine, when non-empty, is inserted verbatim into the header.
func writeOVF(t *testing.T, fname string, frame, wordSize int, descLine string) {
	t.Helper()
	writeOVFSized(t, fname, frame, wordSize, descLine, 3, 2, 2)
}

func writeOVFSized(t *testing.T, fname string, frame, wordSize int, descLine string, nx, ny, nz int) {
	t.Helper()

	var b strings.Builder
	fmt.Fprintf(&b, testHeader, descLine, nx, ny, nz)
	fmt.Fprintf(&b, "# Begin: Data Binary %d\n", wordSize)
	if wordSize == 8 {
		putFloat64(&b, 123456789012345.0)
	} else {
		putFloat32(&b, 1234567.0)
	}
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				for c := 0; c < 3; c++ {
					if wordSize == 8 {
						putFloat64(&b, frameValue(frame, x, y, z, c))
					} else {
						putFloat32(&b, float32(frameValue(frame, x, y, z, c)))
					}
				}
			}
		}
	}
	fmt.Fprintf(&b, "\n# End: Data Binary %d\n# End: Segment\n", wordSize)
	if err := os.WriteFile(fname, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeFolder(t *testing.T, nt, wordSize int, withTime bool) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < nt; i++ {
		desc := ""
		if withTime {
			desc = fmt.Sprintf("# Desc: Total simulation time:  %g  s\n", float64(i)/2)
		}
		writeOVF(t, filepath.Join(dir, fmt.Sprintf("m_%06d.ovf", i)), i, wordSize, desc)
	}
	return dir
}

func TestBuildAndRead(t *testing.T) {
	const nt = 4
	dir := writeFolder(t, nt, 4, true)

	res, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultContainerName)); err != nil {
		t.Fatalf("container not written: %v", err)
	}

	gt, gx, gy, gz := res.Shape()
	if gt != nt || gx != 3 || gy != 2 || gz != 2 {
		t.Fatalf("shape (%d,%d,%d,%d), expected (%d,3,2,2)", gt, gx, gy, gz, nt)
	}
	if res.Float32() == nil || res.Float64() != nil {
		t.Fatal("expected a single-precision stack")
	}
	for i := 0; i < nt; i++ {
		if res.Time[i] != float64(i)/2 {
			t.Errorf("Time[%d] = %g, expected %g", i, res.Time[i], float64(i)/2)
		}
	}
	for frame := 0; frame < nt; frame++ {
		for x := 0; x < 3; x++ {
			for y := 0; y < 2; y++ {
				for z := 0; z < 2; z++ {
					for c := 0; c < 3; c++ {
						got := res.At(frame, x, y, z, c)
						want := frameValue(frame, x, y, z, c)
						if got != want {
							t.Fatalf("At(%d,%d,%d,%d,%d) = %g, expected %g",
								frame, x, y, z, c, got, want)
						}
					}
				}
			}
		}
	}

	if n, has := res.Metadata.Int("xnodes"); !has || n != 3 {
		t.Errorf("metadata xnodes = %d, has=%v", n, has)
	}
	if s, has := res.Metadata.Str("meshtype"); !has || s != "rectangular" {
		t.Errorf("metadata meshtype = %q, has=%v", s, has)
	}
	if step, has := res.Metadata.Float("xstepsize"); !has || step != 1e-9 {
		t.Errorf("metadata xstepsize = %g, has=%v", step, has)
	}
	if _, has := res.Metadata.Get("Segment count"); has {
		t.Error("free-form header field leaked into container metadata")
	}
}

func TestBuildAndReadWideLattice(t *testing.T) {
	const nt, nx, ny, nz = 10, 100, 10, 2
	dir := t.TempDir()
	for i := 0; i < nt; i++ {
		writeOVFSized(t, filepath.Join(dir, fmt.Sprintf("m_%06d.ovf", i)),
			i, 4, "", nx, ny, nz)
	}

	res, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	gt, gx, gy, gz := res.Shape()
	if gt != nt || gx != nx || gy != ny || gz != nz {
		t.Fatalf("shape (%d,%d,%d,%d), expected (%d,%d,%d,%d)",
			gt, gx, gy, gz, nt, nx, ny, nz)
	}
	if len(res.Time) != nt {
		t.Fatalf("time vector length %d, expected %d", len(res.Time), nt)
	}
	if got := res.At(7, 42, 3, 1, 2); got != frameValue(7, 42, 3, 1, 2) {
		t.Errorf("At = %g, expected %g", got, frameValue(7, 42, 3, 1, 2))
	}
}

func TestBuildAndReadDouble(t *testing.T) {
	dir := writeFolder(t, 2, 8, true)

	res, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Float64() == nil || res.Float32() != nil {
		t.Fatal("expected a double-precision stack")
	}
	if got := res.At(1, 2, 1, 1, 2); got != frameValue(1, 2, 1, 1, 2) {
		t.Errorf("At = %g, expected %g", got, frameValue(1, 2, 1, 1, 2))
	}
}

func TestTimeFromFilename(t *testing.T) {
	dir := writeFolder(t, 3, 4, false)

	res, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if res.Time[i] != float64(i) {
			t.Errorf("Time[%d] = %g, expected %d", i, res.Time[i], i)
		}
	}
}

func TestFrameTimeFallbacks(t *testing.T) {
	hdr := ovf2.NewHeader()
	hdr.Add("Desc: Total simulation time", "3.5 s")
	if got := frameTime(hdr, "whatever.ovf"); got != 3.5 {
		t.Errorf("header time = %g, expected 3.5", got)
	}

	hdr = ovf2.NewHeader()
	hdr.Add("t", "2.5e-10s")
	if got := frameTime(hdr, "whatever.ovf"); got != 2.5e-10 {
		t.Errorf("t field = %g, expected 2.5e-10", got)
	}

	if got := frameTime(ovf2.NewHeader(), "m_000012.ovf"); got != 12 {
		t.Errorf("filename time = %g, expected 12", got)
	}
	if got := frameTime(ovf2.NewHeader(), "final.ovf"); !math.IsNaN(got) {
		t.Errorf("time = %g, expected NaN", got)
	}
}

func TestReadWithoutBuild(t *testing.T) {
	dir := writeFolder(t, 2, 4, true)

	_, err := Read(dir, WithBuildIfMissing(false))
	if !errors.Is(err, ErrNoContainer) {
		t.Fatalf("error %v, expected ErrNoContainer", err)
	}
	if _, serr := os.Stat(filepath.Join(dir, DefaultContainerName)); serr == nil {
		t.Fatal("container was built anyway")
	}
}

func TestReadRebuild(t *testing.T) {
	dir := writeFolder(t, 2, 4, true)
	if err := Build(dir); err != nil {
		t.Fatal(err)
	}

	// A new dump appears after the container was built.
	writeOVF(t, filepath.Join(dir, "m_000002.ovf"), 2, 4,
		"# Desc: Total simulation time:  1  s\n")

	res, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if nt, _, _, _ := res.Shape(); nt != 2 {
		t.Fatalf("stale read has %d frames, expected 2", nt)
	}

	res, err = Read(dir, WithRebuild())
	if err != nil {
		t.Fatal(err)
	}
	if nt, _, _, _ := res.Shape(); nt != 3 {
		t.Fatalf("rebuilt read has %d frames, expected 3", nt)
	}
}

func TestCustomContainerName(t *testing.T) {
	dir := writeFolder(t, 2, 4, true)

	if _, err := Read(dir, WithContainerName("stack.h5")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stack.h5")); err != nil {
		t.Fatalf("named container not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultContainerName)); err == nil {
		t.Fatal("default container written despite the override")
	}
}

func TestInconsistentMetadata(t *testing.T) {
	dir := writeFolder(t, 2, 4, true)
	// Same folder, different mesh: xnodes disagrees with the baseline.
	second := filepath.Join(dir, "m_000001.ovf")
	content, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(content), "# xnodes: 3", "# xnodes: 6", 1)
	// Double the payload so the file is self-consistent.
	i := strings.Index(tampered, "# Begin: Data Binary 4\n")
	j := strings.Index(tampered, "\n# End: Data Binary 4")
	payload := tampered[i+len("# Begin: Data Binary 4\n")+4 : j]
	tampered = tampered[:j] + payload + tampered[j:]
	if err := os.WriteFile(second, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}

	err = Build(dir)
	if !errors.Is(err, ErrInconsistentMetadata) {
		t.Fatalf("error %v, expected ErrInconsistentMetadata", err)
	}
	if !strings.Contains(err.Error(), "xnodes") ||
		!strings.Contains(err.Error(), "m_000000.ovf") ||
		!strings.Contains(err.Error(), "m_000001.ovf") {
		t.Errorf("error %q does not name the field and both files", err)
	}
}

func TestNoInputFiles(t *testing.T) {
	err := Build(t.TempDir())
	if !errors.Is(err, ErrNoInputFiles) {
		t.Fatalf("error %v, expected ErrNoInputFiles", err)
	}
}

func TestMissingFolder(t *testing.T) {
	err := Build(filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error %v, expected os.ErrNotExist", err)
	}
}

func TestFailedBuildLeavesNoContainer(t *testing.T) {
	dir := writeFolder(t, 3, 4, true)
	// Truncate the last dump so its decode fails mid-build.
	last := filepath.Join(dir, "m_000002.ovf")
	content, err := os.ReadFile(last)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(last, content[:len(content)-120], 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Build(dir); err == nil {
		t.Fatal("build of a truncated series succeeded")
	}
	for _, name := range []string{DefaultContainerName, DefaultContainerName + ".tmp"} {
		if _, serr := os.Stat(filepath.Join(dir, name)); serr == nil {
			t.Errorf("failed build left %s behind", name)
		}
	}
}

func TestOpenContainerRejectsForeignFile(t *testing.T) {
	dir := writeFolder(t, 2, 4, true)
	// A container that predates the expected layout: right name, no
	// magnetization dataset.
	if err := os.WriteFile(filepath.Join(dir, DefaultContainerName),
		[]byte("not an HDF5 file"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(dir); err == nil {
		t.Fatal("read of a bogus container succeeded")
	}
}
