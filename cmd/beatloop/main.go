package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/cbegin/beatloop-go/internal/config"
)

// logger is replaced by initLogger once settings are loaded.
var logger = slog.Default()

func initLogger(level slog.Level, debug bool) {
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

func main() {
	if err := newApp(afero.NewOsFs()).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "beatloop:", err)
		os.Exit(1)
	}
}

func newApp(fs afero.Fs) *cli.App {
	app := cli.NewApp()
	app.Name = "beatloop"
	app.Usage = "tempo-synced sample looper"
	app.UsageText = "beatloop [global options] <command> [arguments...]"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "config file (yaml, toml or json)",
			EnvVar: config.EnvPrefix + "_CONFIG",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "debug logging with source locations",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "play",
			Aliases:   []string{"p"},
			Usage:     "play a sample interactively",
			ArgsUsage: "SAMPLE",
			Flags:     append(engineFlags(), cli.BoolFlag{Name: "watch, w", Usage: "reload the sample when the file changes"}),
			Action:    func(ctx *cli.Context) error { return play(ctx, fs) },
		},
		{
			Name:      "render",
			Usage:     "render the beat loop to a WAV file",
			ArgsUsage: "SAMPLE",
			Flags: append(engineFlags(),
				cli.Float64Flag{Name: "seconds, s", Value: 8, Usage: "length of the render"},
				cli.StringFlag{Name: "out, o", Value: "beatloop.wav", Usage: "output WAV path"},
			),
			Action: func(ctx *cli.Context) error { return render(ctx, fs) },
		},
		{
			Name:      "notes",
			Usage:     "play a standard MIDI file through the sample",
			ArgsUsage: "SAMPLE",
			Flags: append(engineFlags(),
				cli.StringFlag{Name: "midi, m", Usage: "standard MIDI file"},
				cli.IntFlag{Name: "channel", Value: -1, Usage: "only play this MIDI channel (-1 = all)"},
			),
			Action: func(ctx *cli.Context) error { return notes(ctx, fs) },
		},
	}
	return app
}

// engineFlags override the config file and environment when set.
func engineFlags() []cli.Flag {
	return []cli.Flag{
		cli.Float64Flag{Name: "tempo, t", Usage: "beats per minute"},
		cli.Float64Flag{Name: "pitch", Usage: "playback rate, 1 = native"},
		cli.Float64Flag{Name: "reference", Usage: "native pitch of the sample in Hz"},
		cli.Float64Flag{Name: "volume", Usage: "output volume 0..1"},
		cli.StringFlag{Name: "mode", Usage: "oneshot|loop (default: from the sample)"},
		cli.IntFlag{Name: "multiplier", Usage: "quarter notes between beats"},
		cli.IntFlag{Name: "sample-rate", Usage: "output sample rate"},
	}
}

// loadSettings merges defaults, config file, environment and flags.
func loadSettings(ctx *cli.Context, fs afero.Fs) (*config.Config, error) {
	c, err := config.Load(fs, ctx.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if s := ctx.Args().First(); s != "" {
		c.Sample = s
	}
	if ctx.IsSet("tempo") {
		c.Tempo = ctx.Float64("tempo")
	}
	if ctx.IsSet("pitch") {
		c.Pitch = ctx.Float64("pitch")
	}
	if ctx.IsSet("reference") {
		c.ReferenceHz = ctx.Float64("reference")
	}
	if ctx.IsSet("volume") {
		c.Volume = ctx.Float64("volume")
	}
	if ctx.IsSet("mode") {
		c.Mode = ctx.String("mode")
	}
	if ctx.IsSet("multiplier") {
		c.Multiplier = ctx.Int("multiplier")
	}
	if ctx.IsSet("sample-rate") {
		c.SampleRate = ctx.Int("sample-rate")
	}
	if ctx.IsSet("watch") {
		c.Watch = ctx.Bool("watch")
	}
	if ctx.IsSet("channel") {
		c.MIDIChannel = ctx.Int("channel")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Sample == "" {
		return nil, fmt.Errorf("no sample given")
	}
	lvl, _ := c.Level()
	initLogger(lvl, ctx.GlobalBool("debug"))
	return c, nil
}

func readSample(fs afero.Fs, path string) ([]byte, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read sample: %w", err)
	}
	return raw, nil
}
