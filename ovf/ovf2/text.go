package ovf2

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/batchatco/go-thrower"
)

// decodeText reads the whole file and parses the Text mode payload.
// Unlike the binary modes this cannot work on the bounded prefix: the
// end marker can sit arbitrarily far into the file, so the full
// contents must be resident.  That is an accepted inefficiency of the
// Text path.
func decodeText(fname string, nx, ny, nz int) *Frame {
	content, err := os.ReadFile(fname)
	thrower.ThrowIfError(err)

	start := bytes.Index(content, []byte(dataBegin))
	end := bytes.Index(content, []byte(dataEnd))
	if start < 0 || end < 0 || end <= start {
		failf(ErrDataBlockNotFound, "%s: data block markers not found", fname)
	}
	nl := bytes.IndexByte(content[start:end], '\n')
	if nl < 0 {
		failf(ErrDataBlockNotFound, "%s: unterminated data marker line", fname)
	}
	payload := string(content[start+nl+1 : end])

	fields := strings.Fields(payload)
	vals := make([]float32, len(fields))
	for i, tok := range fields {
		f, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			failf(ErrMalformedPayload, "%s: %q is not a number", fname, tok)
		}
		vals[i] = float32(f)
	}

	if len(vals)%3 != 0 {
		failf(ErrMalformedPayload,
			"%s: %d values, not divisible by 3 (valuedim must be 3)",
			fname, len(vals))
	}
	n := nx * ny * nz
	if len(vals) != 3*n {
		failf(ErrNodeCountMismatch,
			"%s: got %d nodes, expected xnodes*ynodes*znodes = %d",
			fname, len(vals)/3, n)
	}

	return &Frame{
		fname:    fname,
		nx:       nx,
		ny:       ny,
		nz:       nz,
		wordSize: 4,
		vals:     vals,
	}
}
