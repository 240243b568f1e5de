// Package config loads CLI settings from a config file, BEATLOOP_*
// environment variables and built-in defaults, in increasing order of
// precedence below command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	beatloop "github.com/cbegin/beatloop-go"
	"github.com/cbegin/beatloop-go/internal/buffer"
	"github.com/cbegin/beatloop-go/internal/transport"
)

var ErrInvalid = errors.New("invalid config")

const EnvPrefix = "BEATLOOP"

type Config struct {
	Sample        string        `mapstructure:"sample"`
	Tempo         float64       `mapstructure:"tempo"`
	Pitch         float64       `mapstructure:"pitch"`
	ReferenceHz   float64       `mapstructure:"reference_hz"`
	Volume        float64       `mapstructure:"volume"`
	Mode          string        `mapstructure:"mode"`
	Multiplier    int           `mapstructure:"multiplier"`
	SampleRate    int           `mapstructure:"sample_rate"`
	StartDelay    time.Duration `mapstructure:"start_delay"`
	WakeInterval  time.Duration `mapstructure:"wake_interval"`
	LookAhead     time.Duration `mapstructure:"look_ahead"`
	ResumeTimeout time.Duration `mapstructure:"resume_timeout"`
	MIDIChannel   int           `mapstructure:"midi_channel"`
	Watch         bool          `mapstructure:"watch"`
	LogLevel      string        `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	sc := transport.DefaultConfig()
	v.SetDefault("sample", "")
	v.SetDefault("tempo", 120.0)
	v.SetDefault("pitch", 1.0)
	v.SetDefault("reference_hz", 0.0)
	v.SetDefault("volume", 1.0)
	v.SetDefault("mode", "")
	v.SetDefault("multiplier", 1)
	v.SetDefault("sample_rate", beatloop.DefaultSampleRate)
	v.SetDefault("start_delay", sc.StartDelay)
	v.SetDefault("wake_interval", sc.WakeInterval)
	v.SetDefault("look_ahead", sc.LookAhead)
	v.SetDefault("resume_timeout", 3*time.Second)
	v.SetDefault("midi_channel", -1)
	v.SetDefault("watch", false)
	v.SetDefault("log_level", "info")
}

// Load reads path from fs when it is non-empty. The file format follows its
// extension (yaml, toml, json).
func Load(fs afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if !(c.Tempo > 0) {
		errs = append(errs, fmt.Errorf("tempo %v must be positive", c.Tempo))
	}
	if !(c.Pitch > 0) {
		errs = append(errs, fmt.Errorf("pitch %v must be positive", c.Pitch))
	}
	if c.ReferenceHz < 0 {
		errs = append(errs, fmt.Errorf("reference_hz %v must not be negative", c.ReferenceHz))
	}
	if c.Volume < 0 || c.Volume > 1 {
		errs = append(errs, fmt.Errorf("volume %v outside [0,1]", c.Volume))
	}
	if c.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier %d must be at least 1", c.Multiplier))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", c.SampleRate))
	}
	if c.MIDIChannel < -1 || c.MIDIChannel > 15 {
		errs = append(errs, fmt.Errorf("midi_channel %d outside -1..15", c.MIDIChannel))
	}
	if _, _, err := c.PlaybackMode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Scheduler().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c *Config) Scheduler() transport.Config {
	return transport.Config{
		StartDelay:   c.StartDelay,
		WakeInterval: c.WakeInterval,
		LookAhead:    c.LookAhead,
	}
}

// PlaybackMode reports the configured mode. set is false when the mode should
// come from the sample's own metadata.
func (c *Config) PlaybackMode() (mode buffer.PlaybackMode, set bool, err error) {
	if c.Mode == "" || c.Mode == "auto" {
		return buffer.OneShot, false, nil
	}
	mode, err = buffer.ParseMode(c.Mode)
	if err != nil {
		return mode, false, err
	}
	return mode, true, nil
}

func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// EngineOptions maps the config onto engine options. The logger is left to
// the caller.
func (c *Config) EngineOptions() []beatloop.Option {
	opts := []beatloop.Option{
		beatloop.WithSampleRate(c.SampleRate),
		beatloop.WithScheduler(c.Scheduler()),
		beatloop.WithResumeTimeout(c.ResumeTimeout),
		beatloop.WithScheduleMultiplier(c.Multiplier),
		beatloop.WithVolume(c.Volume),
	}
	if c.ReferenceHz > 0 {
		opts = append(opts, beatloop.WithReferenceFrequency(c.ReferenceHz))
	}
	if mode, ok, _ := c.PlaybackMode(); ok {
		opts = append(opts, beatloop.WithPlaybackMode(mode))
	}
	return opts
}
