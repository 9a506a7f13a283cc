//go:build !linux

package fotaagent

import (
	"github.com/autopeer-io/fota/internal/fotaagent/catalog"
	"github.com/autopeer-io/fota/internal/fotaagent/session"
)

func freeSpace(_ *catalog.Catalog, _ string) session.FreeSpaceFunc {
	return nil
}
