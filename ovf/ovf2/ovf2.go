// Package ovf2 reads OVF 2.0 vector field dumps written by mumax3 and
// OOMMF.  Only rectangular meshes with three components per node are
// supported; data may be in Text, Binary 4 or Binary 8 mode.
//
// Reference:
// https://math.nist.gov/oommf/doc/userguide20b0/userguide/OVF_2.0_format.html
package ovf2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/batchatco/go-thrower"
	"github.com/edsrzf/mmap-go"

	"github.com/batchatco/go-native-ovf/internal"
)

const (
	// FirstLine is the magic first line of every OVF 2.0 file.
	FirstLine = "# OOMMF OVF 2.0"

	headerBegin = "# Begin: Header\n"
	headerEnd   = "# End: Header\n"
	dataBegin   = "# Begin: Data"
	dataEnd     = "# End: Data"

	// Typically the header is under 1 kB; read 64 kB for safety.  Both
	// header markers and the data marker must appear within this bound.
	headerReadBytes = 64 * 1024
)

// OVF 2.0 writes data in little endian order (OVF 1.0 used big endian).
// Binary payloads start with these check values.
var (
	binary4Flag = leBytes32(1234567.0)
	binary8Flag = leBytes64(123456789012345.0)
)

var (
	ErrNotOVF2           = errors.New("not an OVF 2.0 file")
	ErrHeaderNotFound    = errors.New("header block not found")
	ErrTypeCoercion      = errors.New("header field has wrong type")
	ErrUnsupportedSchema = errors.New("unsupported mesh schema")
	ErrUnsupportedMode   = errors.New("unsupported data mode")
	ErrFlagMismatch      = errors.New("binary check value mismatch")
	ErrDataBlockNotFound = errors.New("data block not found")
	ErrMalformedPayload  = errors.New("malformed data payload")
	ErrNodeCountMismatch = errors.New("node count mismatch")
)

var logger = internal.NewLogger()

// SetLogLevel sets the logging level to the given level, and returns
// the old level.  This is for internal debugging use.  The lowest
// level is 0 (errors only) and the highest level is 2 (errors,
// warnings and debug messages).
func SetLogLevel(level int) int {
	old := logger.LogLevel()
	switch level {
	case 0:
		logger.SetLogLevel(internal.LevelError)
	case 1:
		logger.SetLogLevel(internal.LevelWarn)
	default:
		logger.SetLogLevel(internal.LevelInfo)
	}
	return int(old)
}

// failf throws the sentinel wrapped with context, so that callers can
// test the kind with errors.Is and still see the offending file.
func failf(sentinel error, format string, a ...any) {
	thrower.Throw(fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, a...)))
}

func assertf(condition bool, sentinel error, format string, a ...any) {
	if condition {
		return
	}
	failf(sentinel, format, a...)
}

func leBytes32(f float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
	return b
}

func leBytes64(f float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(f))
	return b
}

// ReadFrame reads one OVF 2.0 file and returns its header and decoded
// field frame.  Binary frames are backed by a read-only mapping of the
// source file and must be released with Frame.Close; the Text mode
// frame owns its values and Close is a no-op.
func ReadFrame(fname string) (hdr *Header, fr *Frame, err error) {
	defer thrower.RecoverError(&err)

	prefix := readPrefix(fname)
	if !bytes.HasPrefix(prefix, []byte(FirstLine)) {
		failf(ErrNotOVF2, "%s: missing %q first line", fname, FirstLine)
	}

	hdr = parseHeader(fname, prefix)
	nx, ny, nz := validateSchema(fname, hdr)

	mode, payloadStart := locateData(fname, prefix)
	switch mode {
	case "Text":
		fr = decodeText(fname, nx, ny, nz)
	case "Binary 4":
		fr = decodeBinary(fname, payloadStart, 4, nx, ny, nz)
	case "Binary 8":
		fr = decodeBinary(fname, payloadStart, 8, nx, ny, nz)
	default:
		failf(ErrUnsupportedMode,
			"%s: data mode %q, supported: Text, Binary 4, Binary 8", fname, mode)
	}
	return hdr, fr, nil
}

// readPrefix returns up to headerReadBytes leading bytes of the file.
func readPrefix(fname string) []byte {
	f, err := os.Open(fname)
	thrower.ThrowIfError(err)
	defer f.Close()

	prefix := make([]byte, headerReadBytes)
	n, err := io.ReadFull(f, prefix)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		thrower.Throw(err)
	}
	return prefix[:n]
}

// validateSchema checks the fields this decoder depends on and returns
// the node counts.
func validateSchema(fname string, hdr *Header) (nx, ny, nz int) {
	meshtype, has := hdr.Str("meshtype")
	assertf(has && strings.ToLower(meshtype) == "rectangular",
		ErrUnsupportedSchema,
		"%s: meshtype %q, expected \"rectangular\"", fname, meshtype)

	valuedim, has := hdr.Int("valuedim")
	assertf(has && valuedim == 3, ErrUnsupportedSchema,
		"%s: valuedim %d, expected 3", fname, valuedim)

	for _, name := range []string{"xnodes", "ynodes", "znodes"} {
		n, has := hdr.Int(name)
		assertf(has && n > 0, ErrUnsupportedSchema,
			"%s: missing or non-positive %s", fname, name)
	}
	nx, _ = hdr.Int("xnodes")
	ny, _ = hdr.Int("ynodes")
	nz, _ = hdr.Int("znodes")
	return nx, ny, nz
}

// locateData finds the data marker line within the prefix and returns
// the mode token and the byte offset of the first payload byte.
func locateData(fname string, prefix []byte) (mode string, payloadStart int) {
	start := bytes.Index(prefix, []byte(dataBegin))
	if start < 0 {
		failf(ErrDataBlockNotFound,
			"%s: no data marker in first %d bytes", fname, len(prefix))
	}
	nl := bytes.IndexByte(prefix[start:], '\n')
	if nl < 0 {
		failf(ErrDataBlockNotFound,
			"%s: unterminated data marker line", fname)
	}
	line := string(prefix[start : start+nl])
	mode = strings.TrimSpace(strings.TrimSuffix(line[len(dataBegin):], "\r"))
	return mode, start + nl + 1
}

// decodeBinary maps the file read-only and returns a frame viewing the
// little-endian samples in place.  The check value and the total file
// length are validated before the view is handed out.
func decodeBinary(fname string, payloadStart, wordSize, nx, ny, nz int) *Frame {
	flag := binary4Flag
	if wordSize == 8 {
		flag = binary8Flag
	}
	n := nx * ny * nz

	f, err := os.Open(fname)
	thrower.ThrowIfError(err)
	closeOnThrow := f
	defer func() {
		if closeOnThrow != nil {
			closeOnThrow.Close()
		}
	}()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	thrower.ThrowIfError(err)
	unmapOnThrow := m
	defer func() {
		if unmapOnThrow != nil {
			unmapOnThrow.Unmap()
		}
	}()

	assertf(payloadStart+wordSize <= len(m), ErrFlagMismatch,
		"%s: file ends before the Binary %d check value", fname, wordSize)
	observed := m[payloadStart : payloadStart+wordSize]
	if !bytes.Equal(observed, flag) {
		failf(ErrFlagMismatch, "%s: expected % x, got % x", fname, flag, observed)
	}

	dataStart := payloadStart + wordSize
	need := 3 * n * wordSize
	if dataStart+need > len(m) {
		avail := (len(m) - dataStart) / (3 * wordSize)
		failf(ErrNodeCountMismatch,
			"%s: got %d nodes, expected xnodes*ynodes*znodes = %d",
			fname, avail, n)
	}

	closeOnThrow, unmapOnThrow = nil, nil
	return &Frame{
		fname:    fname,
		nx:       nx,
		ny:       ny,
		nz:       nz,
		wordSize: wordSize,
		raw:      m[dataStart : dataStart+need],
		mm:       m,
		file:     f,
	}
}
