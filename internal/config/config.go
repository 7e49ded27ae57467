// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the complete probe-layer configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	// VendorGPU configures one vendor backend. Library, when set, is an
	// explicit shared-library path used instead of the built-in candidates.
	VendorGPU struct {
		Enabled bool   `yaml:"enabled"`
		Library string `yaml:"library"`
	}

	GPU struct {
		NVIDIA VendorGPU `yaml:"nvidia"`
		AMD    VendorGPU `yaml:"amd"`
		Habana VendorGPU `yaml:"habana"`
		XPU    VendorGPU `yaml:"xpu"`
	}

	Config struct {
		Log Log `yaml:"log"`
		GPU GPU `yaml:"gpu"`
	}
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	NvidiaDisabledFlag = "gpu.nvidia.disabled"
	NvidiaLibraryFlag  = "gpu.nvidia.library"
	AMDDisabledFlag    = "gpu.amd.disabled"
	AMDLibraryFlag     = "gpu.amd.library"
	HabanaDisabledFlag = "gpu.habana.disabled"
	HabanaLibraryFlag  = "gpu.habana.library"
	XPUDisabledFlag    = "gpu.xpu.disabled"
	XPULibraryFlag     = "gpu.xpu.library"
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	enabled := VendorGPU{Enabled: true}
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		GPU: GPU{
			NVIDIA: enabled,
			AMD:    enabled,
			Habana: enabled,
			XPU:    enabled,
		},
	}
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	// GPU vendors
	type vendorFlags struct {
		disabledFlag string
		libraryFlag  string
		disabled     *bool
		library      *string
		target       func(*Config) *VendorGPU
	}
	vendors := []vendorFlags{
		{disabledFlag: NvidiaDisabledFlag, libraryFlag: NvidiaLibraryFlag,
			target: func(c *Config) *VendorGPU { return &c.GPU.NVIDIA }},
		{disabledFlag: AMDDisabledFlag, libraryFlag: AMDLibraryFlag,
			target: func(c *Config) *VendorGPU { return &c.GPU.AMD }},
		{disabledFlag: HabanaDisabledFlag, libraryFlag: HabanaLibraryFlag,
			target: func(c *Config) *VendorGPU { return &c.GPU.Habana }},
		{disabledFlag: XPUDisabledFlag, libraryFlag: XPULibraryFlag,
			target: func(c *Config) *VendorGPU { return &c.GPU.XPU }},
	}
	for i := range vendors {
		v := &vendors[i]
		v.disabled = app.Flag(v.disabledFlag, "Disable this GPU vendor backend").Bool()
		v.library = app.Flag(v.libraryFlag, "Explicit shared-library path for this vendor").String()
	}

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		for i := range vendors {
			v := &vendors[i]
			section := v.target(cfg)
			if flagsSet[v.disabledFlag] {
				section.Enabled = !*v.disabled
			}
			if flagsSet[v.libraryFlag] {
				section.Library = *v.library
			}
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	for _, v := range []*VendorGPU{&c.GPU.NVIDIA, &c.GPU.AMD, &c.GPU.Habana, &c.GPU.XPU} {
		v.Library = strings.TrimSpace(v.Library)
	}
}

// Validate checks for configuration errors
func (c *Config) Validate() error {
	var errs []string
	{ // log level
		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("log: %+v gpu: %+v", c.Log, c.GPU)
	}
	return string(bytes)
}
