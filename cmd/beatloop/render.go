package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/cbegin/beatloop-go"
)

func render(ctx *cli.Context, fs afero.Fs) error {
	c, err := loadSettings(ctx, fs)
	if err != nil {
		return err
	}
	raw, err := readSample(fs, c.Sample)
	if err != nil {
		return err
	}
	opts := append(c.EngineOptions(), beatloop.WithLogger(logger))
	samples, err := beatloop.RenderLoop(raw, c.Tempo, c.Pitch, ctx.Float64("seconds"), c.SampleRate, opts...)
	if err != nil {
		return err
	}

	out := ctx.String("out")
	f, err := fs.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	if err := beatloop.WriteWAV(f, samples, c.SampleRate); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("rendered", "out", out, "frames", len(samples)/2, "tempo", c.Tempo)
	return nil
}
