package beatloop

import (
	"log/slog"
	"time"

	"github.com/cbegin/beatloop-go/internal/buffer"
	"github.com/cbegin/beatloop-go/internal/transport"
)

type Option func(*engineConfig)

type engineConfig struct {
	mode          *buffer.PlaybackMode
	referenceHz   float64
	sampleRate    int
	scheduler     transport.Config
	clock         Clock
	engine        PlaybackEngine
	waker         transport.Waker
	logger        *slog.Logger
	resumeTimeout time.Duration
	multiplier    int
	volume        float64
	sampleTap     func([]float32)
}

const DefaultSampleRate = 48000

func defaultEngineConfig() engineConfig {
	return engineConfig{
		sampleRate:    DefaultSampleRate,
		scheduler:     transport.DefaultConfig(),
		resumeTimeout: 3 * time.Second,
		multiplier:    1,
		volume:        1,
	}
}

// WithPlaybackMode fixes the mode instead of reading it from the sample's
// metadata.
func WithPlaybackMode(mode PlaybackMode) Option {
	return func(cfg *engineConfig) {
		cfg.mode = &mode
	}
}

// WithReferenceFrequency sets the sample's native pitch in Hz. Without it the
// WAV unity note is used when present, otherwise 440 Hz.
func WithReferenceFrequency(hz float64) Option {
	return func(cfg *engineConfig) {
		cfg.referenceHz = hz
	}
}

// WithSampleRate sets the output rate of the built-in mixer.
func WithSampleRate(sampleRate int) Option {
	return func(cfg *engineConfig) {
		cfg.sampleRate = sampleRate
	}
}

// WithScheduler overrides the look-ahead timing constants.
func WithScheduler(c transport.Config) Option {
	return func(cfg *engineConfig) {
		cfg.scheduler = c
	}
}

func WithClock(c Clock) Option {
	return func(cfg *engineConfig) {
		cfg.clock = c
	}
}

// WithPlaybackEngine replaces the built-in mixer and audio device. If the
// engine does not implement Clock, WithClock is required too.
func WithPlaybackEngine(e PlaybackEngine) Option {
	return func(cfg *engineConfig) {
		cfg.engine = e
	}
}

// WithWaker replaces the ticker that drives scheduler wakes.
func WithWaker(w transport.Waker) Option {
	return func(cfg *engineConfig) {
		cfg.waker = w
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) {
		cfg.logger = l
	}
}

// WithResumeTimeout bounds how long a playback call waits for the clock.
func WithResumeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.resumeTimeout = d
	}
}

func WithScheduleMultiplier(n int) Option {
	return func(cfg *engineConfig) {
		cfg.multiplier = n
	}
}

func WithVolume(level float64) Option {
	return func(cfg *engineConfig) {
		cfg.volume = level
	}
}

// WithSampleTap installs a callback invoked with each rendered stereo block
// of the built-in mixer. It runs on the audio thread; keep work brief and
// non-blocking.
func WithSampleTap(tap func([]float32)) Option {
	return func(cfg *engineConfig) {
		cfg.sampleTap = tap
	}
}
