package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"

	"github.com/autopeer-io/fota/cmd/cpeer-fota-agent/app/options"
	"github.com/autopeer-io/fota/internal/fotaagent"
	"github.com/autopeer-io/fota/internal/fotaagent/engine"
	"github.com/autopeer-io/fota/internal/fotaagent/flash"
	"github.com/autopeer-io/fota/internal/fotaagent/payload"
	"github.com/autopeer-io/fota/pkg/log"
)

const (
	commandName = "cpeer-fota-agent"
	commandDesc = `The Autopeer FOTA agent applies firmware updates to the device's raw
flash partitions. It finds staged payloads, hands each target partition to
the patch engine through aligned block I/O and backup staging, and reports
progress over MQTT and HTTP.`
)

// NewFotaAgentCommand returns the root command.
func NewFotaAgentCommand(ctx context.Context) *cobra.Command {
	opts := options.NewAgentOptions()
	cmd := &cobra.Command{
		Use:           commandName,
		Short:         "Apply firmware updates to raw flash partitions",
		Long:          commandDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Load(); err != nil {
				return err
			}
			log.Init(opts.Log)
			if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
				log.Debug(fmt.Sprintf(format, args...))
			})); err != nil {
				log.Warn("Failed to set GOMAXPROCS", "err", err)
			}
			if err := opts.Complete(); err != nil {
				return err
			}
			return opts.Validate()
		},
	}

	namedfs := opts.Flags()
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	fs := cmd.PersistentFlags()
	for _, f := range namedfs.FlagSets {
		fs.AddFlagSet(f)
	}
	cliflag.SetUsageAndHelpFunc(cmd, namedfs, 80)

	cmd.AddCommand(
		newInstallCommand(ctx, opts),
		newWatchCommand(ctx, opts),
		newFetchCommand(ctx, opts),
		newPartitionsCommand(opts),
	)
	return cmd
}

func newAgent(opts *options.AgentOptions) (*fotaagent.Agent, error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	agent, err := cfg.NewAgent()
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return agent, nil
}

func newInstallCommand(ctx context.Context, opts *options.AgentOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Run one update session with the staged payloads",
		Long: "Run one update session with the payloads in the staging directory and exit\n" +
			"non-zero if it fails. Registered engines: " + strings.Join(engine.Names(), ", ") + ".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = log.Sync() }()
			agent, err := newAgent(opts)
			if err != nil {
				return err
			}
			return agent.Install(ctx)
		},
	}
}

func newWatchCommand(ctx context.Context, opts *options.AgentOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run an update session whenever payloads are staged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = log.Sync() }()
			agent, err := newAgent(opts)
			if err != nil {
				return err
			}
			return agent.Watch(ctx)
		},
	}
}

func newFetchCommand(ctx context.Context, opts *options.AgentOptions) *cobra.Command {
	var install bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download this device's payloads from the object store into the staging directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = log.Sync() }()
			if errs := opts.S3Options.Validate(); len(errs) > 0 {
				return utilerrors.NewAggregate(errs)
			}
			fetcher, err := payload.NewS3Fetcher(opts.S3Options, afero.NewOsFs())
			if err != nil {
				return err
			}
			files, err := fetcher.Fetch(ctx, opts.DeviceID, opts.FlashOptions.StagingDir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				log.Warn("No payloads published for this device", "deviceID", opts.DeviceID, "bucket", opts.S3Options.BucketName)
				return nil
			}
			if !install {
				return nil
			}
			agent, err := newAgent(opts)
			if err != nil {
				return err
			}
			return agent.Install(ctx)
		},
	}
	cmd.Flags().BoolVar(&install, "install", false, "Run an update session after a successful download.")
	return cmd
}

func newPartitionsCommand(opts *options.AgentOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions",
		Short: "List the partitions exposed by the storage medium",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			cat, err := cfg.NewCatalog()
			if err != nil {
				return err
			}
			geos, err := cat.All()
			if err != nil {
				return err
			}
			return printPartitions(cmd.OutOrStdout(), geos)
		},
	}
}

func printPartitions(w io.Writer, geos []flash.Geometry) error {
	table := uitable.New()
	table.MaxColWidth = 32
	table.AddRow("NAME", "SIZE", "ERASE BLOCK", "WRITE BLOCK", "BLOCKS")
	for _, g := range geos {
		table.AddRow(g.Name,
			humanize.IBytes(uint64(g.Size)),
			fmt.Sprintf("0x%X", g.EraseBlockSize),
			fmt.Sprintf("0x%X", g.WriteBlockSize),
			g.Blocks(),
		)
	}
	_, err := fmt.Fprintln(w, table)
	return err
}
