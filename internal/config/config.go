// Package config loads daemon configuration with github.com/spf13/viper,
// following the same set-defaults / read-optional-file / validate-or-panic
// shape used throughout this codebase's command entrypoints.
package config

import (
	"log/slog"

	"github.com/spf13/viper"
)

// Config is the fully resolved, validated daemon configuration.
type Config struct {
	LogLevel string
	LogFile  string

	// StorePath is the on-disk path of the volume/mute/ringer key-value
	// store (internal/volumestore). ":memory:" is accepted for tests.
	StorePath string

	// DefaultOutputDevice / DefaultInputDevice are loaded and defaulted
	// here; nothing else in this module reads them, and each port's name
	// comes from its own adapter.ModuleConfig.
	DefaultOutputDevice string
	DefaultInputDevice  string

	// SampleRate / Channels / BufferSize seed the SampleSpec used when
	// opening the built-in local driver ports.
	SampleRate uint32
	Channels   uint32
	BufferSize uint32

	// DistributedSignalBaseURL is the base URL used to reach a
	// network-projected device's signalling endpoint.
	DistributedSignalBaseURL string

	// TestModeOn is forwarded into module-args as test_mode_on=1.
	TestModeOn bool
}

func setDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("storepath", "/data/system/audiocore/settings.db")
	viper.SetDefault("defaultoutputdevice", "Speaker_File")
	viper.SetDefault("defaultinputdevice", "Built-in Mic")
	viper.SetDefault("samplerate", 48000)
	viper.SetDefault("channels", 2)
	viper.SetDefault("buffersize", 8192)
	viper.SetDefault("distributedsignalbaseurl", "")
	viper.SetDefault("testmodeon", false)
}

// Load reads configFilePath (if it exists), applies defaults for anything
// unset, validates fatal-at-startup invariants, and returns the resolved
// Config. An invalid config panics, mirroring this codebase's own
// LoadConfig: the supervising process is expected to restart on a crash
// rather than run with a config nobody can reason about.
func Load(configFilePath string) Config {
	setDefaults()

	if configFilePath != "" {
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				slog.Info("no config file found, using defaults", "path", configFilePath)
			} else {
				slog.Error("error reading config", "err", err)
				panic(err)
			}
		}
	}

	cfg := Config{
		LogLevel:                 viper.GetString("loglevel"),
		LogFile:                  viper.GetString("logfile"),
		StorePath:                viper.GetString("storepath"),
		DefaultOutputDevice:      viper.GetString("defaultoutputdevice"),
		DefaultInputDevice:       viper.GetString("defaultinputdevice"),
		SampleRate:               viper.GetUint32("samplerate"),
		Channels:                 viper.GetUint32("channels"),
		BufferSize:               viper.GetUint32("buffersize"),
		DistributedSignalBaseURL: viper.GetString("distributedsignalbaseurl"),
		TestModeOn:               viper.GetBool("testmodeon"),
	}

	switch cfg.LogLevel {
	case "none", "error", "warn", "info", "debug":
	default:
		slog.Error("invalid log level specified", "loglevel", cfg.LogLevel)
		panic("invalid log level specified")
	}

	if cfg.StorePath == "" {
		slog.Error("storepath must not be empty")
		panic("storepath must not be empty")
	}

	if cfg.SampleRate == 0 || cfg.Channels == 0 || cfg.BufferSize == 0 {
		slog.Error("samplerate, channels and buffersize must be nonzero",
			"samplerate", cfg.SampleRate, "channels", cfg.Channels, "buffersize", cfg.BufferSize)
		panic("invalid sample spec defaults")
	}

	return cfg
}
