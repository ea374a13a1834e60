package series

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// collectFiles lists the OVF files directly under fdn, sorted by name.
// Simulation tools number their dumps, so lexicographic order is time
// order.
func collectFiles(fdn string) ([]string, error) {
	if _, err := os.Stat(fdn); err != nil {
		return nil, err
	}
	var files []string
	for _, pattern := range []string{"*.ovf", "*.omf"} {
		matches, err := filepath.Glob(filepath.Join(fdn, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInputFiles, fdn)
	}
	sort.Strings(files)
	return files, nil
}
