package fotaagent

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/autopeer-io/fota/internal/fotaagent/catalog"
	"github.com/autopeer-io/fota/internal/fotaagent/engine"
	"github.com/autopeer-io/fota/internal/fotaagent/flash"
	"github.com/autopeer-io/fota/internal/fotaagent/progress"
	"github.com/autopeer-io/fota/internal/fotaagent/report"
	"github.com/autopeer-io/fota/internal/fotaagent/session"
	"github.com/autopeer-io/fota/internal/fotaagent/status"
	"github.com/autopeer-io/fota/pkg/mqtt"
	"github.com/autopeer-io/fota/pkg/mqtt/topic"
	"github.com/autopeer-io/fota/pkg/options"
)

// recorderLines is how many status lines /status keeps.
const recorderLines = 64

// Config is everything needed to build an Agent.
type Config struct {
	DeviceID     string
	FlashOptions *options.FlashOptions
	MqttOptions  *options.MqttOptions
	HttpOptions  *options.HttpOptions
	S3Options    *options.S3Options

	// Fs holds the staging directory. Defaults to the OS filesystem.
	Fs afero.Fs

	// Medium overrides the medium selected by FlashOptions.Driver.
	Medium flash.Medium
}

func (cfg *Config) fs() afero.Fs {
	if cfg.Fs == nil {
		return afero.NewOsFs()
	}
	return cfg.Fs
}

// NewMedium opens the storage medium selected by the flash options.
func (cfg *Config) NewMedium() (flash.Medium, error) {
	if cfg.Medium != nil {
		return cfg.Medium, nil
	}
	o := cfg.FlashOptions
	switch o.Driver {
	case options.DriverFile:
		return flash.NewFileMedium(cfg.fs(), o.Root, o.EraseBlockSize)
	case options.DriverMTD:
		return flash.NewMTDMedium(o.ProcMTD, o.DevDir)
	default:
		return nil, fmt.Errorf("unknown flash driver %q", o.Driver)
	}
}

// NewCatalog returns a catalog over the configured medium.
func (cfg *Config) NewCatalog() (*catalog.Catalog, error) {
	medium, err := cfg.NewMedium()
	if err != nil {
		return nil, err
	}
	names, err := catalog.PhysicalNames(cfg.FlashOptions.Class, cfg.FlashOptions.BackupPartition)
	if err != nil {
		return nil, err
	}
	return catalog.New(medium, names), nil
}

// SessionOptions converts the flash options.
func (cfg *Config) SessionOptions() (session.Options, error) {
	o := cfg.FlashOptions
	buf, err := o.WorkingBufferBytes()
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		StagingDir:        o.StagingDir,
		TempPath:          o.TempPath,
		BackupSlots:       o.BackupSlots,
		BackupAttempts:    o.BackupAttempts,
		WorkingBufferSize: buf,
		EngineVersion:     o.EngineVersion,
		VerifySource:      o.VerifySource,
		VerifyTarget:      o.VerifyTarget,
		UpdateRecovery:    o.UpdateRecovery,
		AllowImageMode:    o.AllowImageMode,
	}, nil
}

// NewAgent wires the catalog, engine, sinks and optional services.
func (cfg *Config) NewAgent() (*Agent, error) {
	cat, err := cfg.NewCatalog()
	if err != nil {
		return nil, err
	}
	eng, err := engine.Get(cfg.FlashOptions.Engine)
	if err != nil {
		return nil, err
	}
	sopts, err := cfg.SessionOptions()
	if err != nil {
		return nil, err
	}

	a := &Agent{
		deviceID: cfg.DeviceID,
		fs:       cfg.fs(),
		opts:     cfg.FlashOptions,
		catalog:  cat,
		recorder: progress.NewRecorder(recorderLines),
		board:    status.NewBoard(),
	}

	sinks := progress.Multi{progress.NewLogSink(), a.recorder}
	observers := multiObserver{a.board}

	if cfg.MqttOptions != nil && cfg.MqttOptions.Enabled {
		rep, err := cfg.newReporter()
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt reporter: %w", err)
		}
		a.reporter = rep
		sinks = append(sinks, rep)
		observers = append(observers, rep)
	}
	if cfg.HttpOptions != nil && cfg.HttpOptions.Enabled {
		a.server = status.NewServer(cfg.HttpOptions, a.board, a.recorder)
	}

	a.orchestrator = session.New(sopts, cat, a.fs, eng, sinks).
		WithObserver(observers).
		WithFreeSpace(freeSpace(cat, sopts.StagingDir))
	return a, nil
}

func (cfg *Config) newReporter() (*report.Reporter, error) {
	o := cfg.MqttOptions
	topics := topic.NewTopicBuilder(o.TopicRoot)

	mqttConfig := o.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("fota-%s", cfg.DeviceID)
	}
	mqttConfig.WillTopic = topics.Presence(cfg.DeviceID)
	mqttConfig.WillPayload = report.PresencePayload(cfg.DeviceID, report.PresenceOffline)
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	pub, err := mqtt.NewPublisher(mqttConfig)
	if err != nil {
		return nil, err
	}
	return report.New(pub, o.TopicRoot, cfg.DeviceID, byte(o.QoS)), nil
}
