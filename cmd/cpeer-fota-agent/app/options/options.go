package options

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/fota/internal/fotaagent"
	"github.com/autopeer-io/fota/pkg/log"
	"github.com/autopeer-io/fota/pkg/options"
)

// DeviceIDFiles are read, in order, when --device-id is not given.
var DeviceIDFiles = []string{"/etc/autopeer/device-id", "/etc/machine-id"}

// AgentOptions collects every option group of the agent.
type AgentOptions struct {
	DeviceID string `json:"device-id" mapstructure:"device-id"`

	FlashOptions *options.FlashOptions `json:"flash" mapstructure:"flash"`
	MqttOptions  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions  *options.HttpOptions  `json:"http" mapstructure:"http"`
	S3Options    *options.S3Options    `json:"s3" mapstructure:"s3"`
	Log          *log.Options          `json:"log" mapstructure:"log"`

	// ConfigFile is an optional YAML or JSON file. Values it sets override
	// command line flags.
	ConfigFile string `json:"-" mapstructure:"-"`
}

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		FlashOptions: options.NewFlashOptions(),
		MqttOptions:  options.NewMqttOptions(),
		HttpOptions:  options.NewHttpOptions(),
		S3Options:    options.NewS3Options(),
		Log:          log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}

	fs := fss.FlagSet("Agent")
	fs.StringVar(&o.DeviceID, "device-id", o.DeviceID, "Device identity used in reports and object store paths; discovered when empty.")
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Configuration file (YAML or JSON). Its values override flags.")

	o.FlashOptions.AddFlags(fss.FlagSet("Flash"))
	o.MqttOptions.AddFlags(fss.FlagSet("MQTT"))
	o.HttpOptions.AddFlags(fss.FlagSet("Status server"))
	o.S3Options.AddFlags(fss.FlagSet("S3"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

// Load applies ConfigFile on top of the parsed flags.
func (o *AgentOptions) Load() error {
	if o.ConfigFile == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(o.ConfigFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", o.ConfigFile, err)
	}
	// Lists in the file replace the flag defaults instead of merging.
	zeroLists := func(c *mapstructure.DecoderConfig) { c.ZeroFields = true }
	if err := v.Unmarshal(o, zeroLists); err != nil {
		return fmt.Errorf("decode config %s: %w", o.ConfigFile, err)
	}
	return nil
}

func (o *AgentOptions) Complete() error {
	if o.DeviceID == "" {
		o.DeviceID = fotaagent.DiscoverDeviceID(DeviceIDFiles...)
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	if o.DeviceID == "" {
		errs = append(errs, fmt.Errorf("device id is required: set --device-id or %s", fotaagent.DeviceIDEnv))
	}
	errs = append(errs, o.FlashOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*fotaagent.Config, error) {
	return &fotaagent.Config{
		DeviceID:     o.DeviceID,
		FlashOptions: o.FlashOptions,
		MqttOptions:  o.MqttOptions,
		HttpOptions:  o.HttpOptions,
		S3Options:    o.S3Options,
	}, nil
}
