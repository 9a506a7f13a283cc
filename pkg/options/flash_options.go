package options

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

var _ IOptions = (*FlashOptions)(nil)

// Storage medium drivers.
const (
	DriverFile = "file"
	DriverMTD  = "mtd"
)

// FlashOptions configures the storage medium and the update session.
type FlashOptions struct {
	// Driver selects the medium driver: "mtd" on devices, "file" for image
	// files in a directory.
	Driver string `json:"driver" mapstructure:"driver"`

	// Root is the image directory of the file driver.
	Root string `json:"root" mapstructure:"root"`

	// EraseBlockSize is the block size the file driver emulates.
	EraseBlockSize int64 `json:"erase-block-size" mapstructure:"erase-block-size"`

	ProcMTD string `json:"proc-mtd" mapstructure:"proc-mtd"`
	DevDir  string `json:"dev-dir" mapstructure:"dev-dir"`

	// Class is the medium class, "nand" or "emmc". It selects the physical
	// partition names.
	Class string `json:"class" mapstructure:"class"`

	StagingDir      string  `json:"staging-dir" mapstructure:"staging-dir"`
	TempPath        string  `json:"temp-path" mapstructure:"temp-path"`
	BackupPartition string  `json:"backup-partition" mapstructure:"backup-partition"`
	BackupSlots     []int64 `json:"backup-slots" mapstructure:"backup-slots"`
	BackupAttempts  int     `json:"backup-attempts" mapstructure:"backup-attempts"`

	// WorkingBuffer is the engine working memory, e.g. "20MiB".
	WorkingBuffer string `json:"working-buffer" mapstructure:"working-buffer"`

	Engine        string `json:"engine" mapstructure:"engine"`
	EngineVersion string `json:"engine-version" mapstructure:"engine-version"`

	VerifySource   bool `json:"verify-source" mapstructure:"verify-source"`
	VerifyTarget   bool `json:"verify-target" mapstructure:"verify-target"`
	UpdateRecovery bool `json:"update-recovery" mapstructure:"update-recovery"`
	AllowImageMode bool `json:"allow-image-mode" mapstructure:"allow-image-mode"`
	RemovePayloads bool `json:"remove-payloads" mapstructure:"remove-payloads"`

	// WatchSettle is how long the staging directory must stay quiet before
	// watch mode starts a session.
	WatchSettle time.Duration `json:"watch-settle" mapstructure:"watch-settle"`
}

// NewFlashOptions returns the reference device configuration.
func NewFlashOptions() *FlashOptions {
	return &FlashOptions{
		Driver:          DriverMTD,
		Root:            "/var/lib/fota/images",
		EraseBlockSize:  0x20000,
		ProcMTD:         "/proc/mtd",
		DevDir:          "/dev",
		Class:           "nand",
		StagingDir:      "/data",
		TempPath:        "/data/fota",
		BackupPartition: "expdb",
		BackupSlots:     []int64{0, 0x20000, 0x40000, 0x80000},
		BackupAttempts:  2,
		WorkingBuffer:   "20MiB",
		Engine:          "scout",
		WatchSettle:     2 * time.Second,
	}
}

// Validate checks the option values.
func (o *FlashOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Driver {
	case DriverFile:
		if o.Root == "" {
			errs = append(errs, fmt.Errorf("--flash.root is required by the file driver"))
		}
		if o.EraseBlockSize <= 0 {
			errs = append(errs, fmt.Errorf("--flash.erase-block-size must be positive"))
		}
	case DriverMTD:
	default:
		errs = append(errs, fmt.Errorf("--flash.driver must be %q or %q, got %q", DriverFile, DriverMTD, o.Driver))
	}
	if o.Class != "nand" && o.Class != "emmc" {
		errs = append(errs, fmt.Errorf("--flash.class must be nand or emmc, got %q", o.Class))
	}
	if !filepath.IsAbs(o.StagingDir) {
		errs = append(errs, fmt.Errorf("--flash.staging-dir must be absolute, got %q", o.StagingDir))
	}
	if o.BackupAttempts < 1 {
		errs = append(errs, fmt.Errorf("--flash.backup-attempts must be at least 1"))
	}
	for _, s := range o.BackupSlots {
		if s < 0 {
			errs = append(errs, fmt.Errorf("--flash.backup-slots: negative address %d", s))
		}
	}
	if _, err := o.WorkingBufferBytes(); err != nil {
		errs = append(errs, err)
	}
	if o.Engine == "" {
		errs = append(errs, fmt.Errorf("--flash.engine is required"))
	}
	return errs
}

// WorkingBufferBytes parses WorkingBuffer.
func (o *FlashOptions) WorkingBufferBytes() (int64, error) {
	n, err := humanize.ParseBytes(o.WorkingBuffer)
	if err != nil {
		return 0, fmt.Errorf("--flash.working-buffer %q: %w", o.WorkingBuffer, err)
	}
	if n == 0 || n > 1<<30 {
		return 0, fmt.Errorf("--flash.working-buffer %q out of range", o.WorkingBuffer)
	}
	return int64(n), nil
}

// AddFlags adds the flash flags to fs.
func (o *FlashOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Driver, "flash.driver", o.Driver, "Storage medium driver: 'mtd' or 'file'.")
	fs.StringVar(&o.Root, "flash.root", o.Root, "Directory of <partition>.img files used by the file driver.")
	fs.Int64Var(&o.EraseBlockSize, "flash.erase-block-size", o.EraseBlockSize, "Erase block size emulated by the file driver.")
	fs.StringVar(&o.ProcMTD, "flash.proc-mtd", o.ProcMTD, "MTD partition table used by the mtd driver.")
	fs.StringVar(&o.DevDir, "flash.dev-dir", o.DevDir, "Directory holding the mtdN character devices.")
	fs.StringVar(&o.Class, "flash.class", o.Class, "Medium class, 'nand' or 'emmc'; selects physical partition names.")

	fs.StringVar(&o.StagingDir, "flash.staging-dir", o.StagingDir, "Directory holding the update payloads.")
	fs.StringVar(&o.TempPath, "flash.temp-path", o.TempPath, "Working directory for files created by the patch engine.")
	fs.StringVar(&o.BackupPartition, "flash.backup-partition", o.BackupPartition, "Partition hosting the backup staging blocks.")
	fs.Int64SliceVar(&o.BackupSlots, "flash.backup-slots", o.BackupSlots, "Backup slot addresses on the backup partition.")
	fs.IntVar(&o.BackupAttempts, "flash.backup-attempts", o.BackupAttempts, "Physical attempts per backup staging operation.")
	fs.StringVar(&o.WorkingBuffer, "flash.working-buffer", o.WorkingBuffer, "Working memory handed to the patch engine (e.g. 20MiB).")

	fs.StringVar(&o.Engine, "flash.engine", o.Engine, "Name of the registered patch engine.")
	fs.StringVar(&o.EngineVersion, "flash.engine-version", o.EngineVersion, "Required patch engine version; empty accepts any.")
	fs.BoolVar(&o.VerifySource, "flash.verify-source", o.VerifySource, "Run the source verification stage before updating.")
	fs.BoolVar(&o.VerifyTarget, "flash.verify-target", o.VerifyTarget, "Run the target verification stage before updating.")
	fs.BoolVar(&o.UpdateRecovery, "flash.update-recovery", o.UpdateRecovery, "Also update the recovery partition when a payload is present.")
	fs.BoolVar(&o.AllowImageMode, "flash.allow-image-mode", o.AllowImageMode, "Accept whole-image payloads and write them directly.")
	fs.BoolVar(&o.RemovePayloads, "flash.remove-payloads", o.RemovePayloads, "Delete the payload files once the session has ended.")
	fs.DurationVar(&o.WatchSettle, "flash.watch-settle", o.WatchSettle, "Quiet period before watch mode starts a session.")
}
