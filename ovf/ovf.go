// Package ovf sniffs OVF files by their first line and dispatches to
// the matching decoder.  Only OVF 2.0 is implemented; OVF 1.0 files
// are recognized and rejected with ErrUnsupportedVersion.
package ovf

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/batchatco/go-native-ovf/ovf/ovf2"
)

const ovf1Magic = "# OOMMF:"

var (
	ErrUnknown            = errors.New("not an OVF file")
	ErrUnsupportedVersion = errors.New("unsupported OVF version")
)

// ReadFrame reads one OVF file by name.
func ReadFrame(fname string) (*ovf2.Header, *ovf2.Frame, error) {
	first, err := firstLine(fname)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case strings.HasPrefix(first, ovf2.FirstLine):
		return ovf2.ReadFrame(fname)
	case strings.HasPrefix(first, ovf1Magic):
		return nil, nil, fmt.Errorf("%w: %s looks like OVF 1.0", ErrUnsupportedVersion, fname)
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnknown, fname)
}

func firstLine(fname string) (string, error) {
	f, err := os.Open(fname)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return "", fmt.Errorf("%w: %s is empty", ErrUnknown, fname)
	}
	return sc.Text(), nil
}
