//go:build !linux

package flash

import (
	"errors"
	"runtime"
)

// MTDMedium is only available on Linux.
type MTDMedium struct{}

func NewMTDMedium(procPath, devDir string) (*MTDMedium, error) {
	return nil, errors.New("mtd medium is not supported on " + runtime.GOOS)
}

func (m *MTDMedium) Partitions() ([]Geometry, error) { return nil, errors.ErrUnsupported }

func (m *MTDMedium) Open(name string) (Partition, error) { return nil, errors.ErrUnsupported }
