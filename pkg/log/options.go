// Copyright 2025 The Autopeer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Options configures the agent logger.
type Options struct {
	// Name prefixes every logger path, e.g. "fota.session".
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is one of debug, info, warn or error.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Verbosity enables logr V-level output such as patch engine traces.
	// Any value above zero lowers the effective level to debug.
	Verbosity int `json:"verbosity,omitempty" mapstructure:"verbosity"`

	// Format is "console" or "json".
	Format string `json:"format,omitempty" mapstructure:"format"`

	EnableColor   bool `json:"enable-color,omitempty" mapstructure:"enable-color"`
	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`

	// OutputPaths are zap sink URLs or file paths. On devices without a
	// console this is usually a file on the data partition.
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

// NewOptions returns the defaults: colored console output at info.
func NewOptions() *Options {
	return &Options{
		Name:        "fota",
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		OutputPaths: []string{"stdout"},
	}
}

// Validate checks the format, level and verbosity.
func (o *Options) Validate() []error {
	var errs []error
	switch o.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("--log.format must be 'console' or 'json', got %q", o.Format))
	}
	if _, err := zapcore.ParseLevel(o.Level); err != nil {
		errs = append(errs, fmt.Errorf("--log.level: %w", err))
	}
	if o.Verbosity < 0 {
		errs = append(errs, fmt.Errorf("--log.verbosity must not be negative, got %d", o.Verbosity))
	}
	return errs
}

// level returns the effective zap level.
func (o *Options) level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(o.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	// logr V(n) maps onto zap level -n.
	if v := zapcore.Level(-o.Verbosity); o.Verbosity > 0 && v < lvl {
		lvl = v
	}
	return lvl
}

// AddFlags binds the log.* flags.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "Logger name prefixed to every entry.")
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum level: debug, info, warn or error.")
	fs.IntVar(&o.Verbosity, "log.verbosity", o.Verbosity, "Trace verbosity; 1 shows patch engine traces.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Output format: console or json.")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Colorize levels in console output.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit the file:line caller field.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Log destinations, e.g. stdout or /data/fota/agent.log.")
}
