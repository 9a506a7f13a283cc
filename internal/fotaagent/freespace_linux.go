//go:build linux

package fotaagent

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/autopeer-io/fota/internal/fotaagent/catalog"
	"github.com/autopeer-io/fota/internal/fotaagent/session"
)

// freeSpace reports the free bytes of the filesystem holding the staging
// directory for the data partition. Other partitions are raw to the engine
// and report session.UnlimitedFreeSpace.
func freeSpace(cat *catalog.Catalog, stagingDir string) session.FreeSpaceFunc {
	data := cat.PhysicalName(catalog.Data)
	return func(partition string) (uint64, error) {
		if partition != catalog.Data && partition != data {
			return session.UnlimitedFreeSpace, nil
		}
		var st unix.Statfs_t
		if err := unix.Statfs(stagingDir, &st); err != nil {
			return 0, fmt.Errorf("statfs %s: %w", stagingDir, err)
		}
		return st.Bfree * uint64(st.Bsize), nil
	}
}
