package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func resetViper() {
	viper.Reset()
}

func TestLoadAppliesDefaults(t *testing.T) {
	resetViper()
	cfg := Load("")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, uint32(48000), cfg.SampleRate)
	assert.Equal(t, "Speaker_File", cfg.DefaultOutputDevice)
}

func TestLoadPanicsOnInvalidLogLevel(t *testing.T) {
	resetViper()
	viper.Set("loglevel", "shout")
	assert.Panics(t, func() { Load("") })
}

func TestLoadPanicsOnEmptyStorePath(t *testing.T) {
	resetViper()
	viper.Set("storepath", "")
	assert.Panics(t, func() { Load("") })
}
