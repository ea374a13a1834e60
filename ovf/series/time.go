package series

import (
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/batchatco/go-native-ovf/ovf/ovf2"
)

// Header fields a simulation time may be recorded under, in the order
// they are tried.  mumax3 uses the first, older tools the rest.
var timeKeyCandidates = []string{
	"Desc: Total simulation time",
	"Total simulation time",
	"time",
	"t",
}

var filenameDigits = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// frameTime derives the simulation time of one frame: first from the
// header, then from the first number in the file name, and NaN when
// neither yields one.
func frameTime(hdr *ovf2.Header, fname string) float64 {
	if t, ok := timeFromHeader(hdr); ok {
		return t
	}
	if t, ok := timeFromFilename(fname); ok {
		return t
	}
	logger.Warnf("%s: no simulation time in header or file name", fname)
	return math.NaN()
}

func timeFromHeader(hdr *ovf2.Header) (float64, bool) {
	for _, key := range timeKeyCandidates {
		val, has := hdr.Get(key)
		if !has {
			continue
		}
		s, ok := val.(string)
		if !ok {
			continue
		}
		// Values typically carry a unit suffix, e.g. "2.5e-10 s".
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "s"))
		t, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		return t, true
	}
	return 0, false
}

// timeFromFilename reads the first run of digits in the base name, so
// m_000012.ovf yields 12.
func timeFromFilename(fname string) (float64, bool) {
	m := filenameDigits.FindString(filepath.Base(fname))
	if m == "" {
		return 0, false
	}
	t, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return t, true
}
