package series

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/mem"
)

// checkMemory rejects stacks larger than physical memory before
// anything is allocated, since a doomed build can otherwise thrash for
// minutes before the OOM killer gets it.  The check is advisory: if
// the platform cannot report memory it is skipped.
func checkMemory(needed uint64) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warnf("cannot determine available memory: %s", err)
		return nil
	}
	if needed > vm.Total {
		return fmt.Errorf("%w: field stack needs %s but system has %s",
			ErrInsufficientMemory, humanize.IBytes(needed), humanize.IBytes(vm.Total))
	}
	return nil
}
