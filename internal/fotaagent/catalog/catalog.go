// Package catalog resolves logical partition names to physical partitions
// and their geometry.
package catalog

import (
	"fmt"
	"sort"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/flash"
	"github.com/autopeer-io/fota/pkg/log"
)

// Logical partition names used across the agent.
const (
	Boot     = "boot"
	System   = "system"
	Recovery = "recovery"
	Data     = "data"
	Backup   = "backup"
)

// Medium classes. They differ in how the boot, system and data regions are
// named on the device.
const (
	ClassNAND = "nand"
	ClassEMMC = "emmc"
)

// PhysicalNames returns the logical to physical name map for a medium class.
func PhysicalNames(class, backup string) (map[string]string, error) {
	names := map[string]string{Recovery: "recovery", Backup: backup}
	switch class {
	case ClassNAND, "":
		names[Boot], names[System], names[Data] = "boot", "system", "userdata"
	case ClassEMMC:
		names[Boot], names[System], names[Data] = "bootimg", "android", "usrdata"
	default:
		return nil, fmt.Errorf("unknown medium class %q", class)
	}
	return names, nil
}

// Catalog answers geometry lookups by logical name. The medium is scanned
// once; later lookups are served from the cached table.
type Catalog struct {
	medium   flash.Medium
	physical map[string]string

	scanned bool
	parts   map[string]flash.Geometry

	logger log.Logger
}

// New returns a catalog over medium. Names missing from physical resolve to
// themselves.
func New(medium flash.Medium, physical map[string]string) *Catalog {
	return &Catalog{
		medium:   medium,
		physical: physical,
		logger:   log.WithName("catalog"),
	}
}

// Scan enumerates the medium. It is idempotent.
func (c *Catalog) Scan() error {
	if c.scanned {
		return nil
	}
	geos, err := c.medium.Partitions()
	if err != nil {
		return fmt.Errorf("scan partitions: %w", err)
	}
	if len(geos) == 0 {
		return fmt.Errorf("scan partitions: medium exposes no partitions: %w", core.ErrNotFound)
	}

	parts := make(map[string]flash.Geometry, len(geos))
	for _, g := range geos {
		parts[g.Name] = g
	}
	c.parts = parts
	c.scanned = true
	c.logger.Debug("Scanned partitions", "count", len(parts))
	return nil
}

// Reset drops the cached scan so the next lookup rescans the medium.
func (c *Catalog) Reset() {
	c.scanned = false
	c.parts = nil
}

// PhysicalName maps a logical name onto the medium's name for it.
func (c *Catalog) PhysicalName(name string) string {
	if p, ok := c.physical[name]; ok && p != "" {
		return p
	}
	return name
}

// Resolve returns the geometry of the named partition.
func (c *Catalog) Resolve(name string) (flash.Geometry, error) {
	if err := c.Scan(); err != nil {
		return flash.Geometry{}, err
	}
	phys := c.PhysicalName(name)
	g, ok := c.parts[phys]
	if !ok {
		return flash.Geometry{}, fmt.Errorf("partition %s (%s): %w", name, phys, core.ErrNotFound)
	}
	if g.EraseBlockSize <= 0 || g.WriteBlockSize != g.EraseBlockSize {
		return flash.Geometry{}, fmt.Errorf("partition %s: erase 0x%X, write 0x%X: %w",
			name, g.EraseBlockSize, g.WriteBlockSize, core.ErrGeometryMismatch)
	}
	return g, nil
}

// ResolveAll resolves every name and fails on the first missing one.
func (c *Catalog) ResolveAll(names ...string) (map[string]flash.Geometry, error) {
	out := make(map[string]flash.Geometry, len(names))
	for _, n := range names {
		g, err := c.Resolve(n)
		if err != nil {
			return nil, err
		}
		c.logger.Info("Resolved partition", "partition", n, "geometry", g.String())
		out[n] = g
	}
	return out, nil
}

// RequireSameErase fails with ErrGeometryMismatch unless every named
// partition shares one erase block size.
func (c *Catalog) RequireSameErase(names ...string) error {
	var first flash.Geometry
	for i, n := range names {
		g, err := c.Resolve(n)
		if err != nil {
			return err
		}
		if i == 0 {
			first = g
			continue
		}
		if g.EraseBlockSize != first.EraseBlockSize {
			return fmt.Errorf("%s erase size 0x%X != %s erase size 0x%X: %w",
				names[0], first.EraseBlockSize, n, g.EraseBlockSize, core.ErrGeometryMismatch)
		}
	}
	return nil
}

func (c *Catalog) Open(name string) (flash.Partition, error) {
	if _, err := c.Resolve(name); err != nil {
		return nil, err
	}
	return c.medium.Open(c.PhysicalName(name))
}

func (c *Catalog) All() ([]flash.Geometry, error) {
	if err := c.Scan(); err != nil {
		return nil, err
	}
	out := make([]flash.Geometry, 0, len(c.parts))
	for _, g := range c.parts {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
