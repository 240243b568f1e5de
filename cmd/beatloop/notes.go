package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/cbegin/beatloop-go"
	"github.com/cbegin/beatloop-go/internal/midiin"
)

func notes(ctx *cli.Context, fs afero.Fs) error {
	c, err := loadSettings(ctx, fs)
	if err != nil {
		return err
	}
	path := ctx.String("midi")
	if path == "" {
		return fmt.Errorf("--midi is required")
	}
	raw, err := readSample(fs, c.Sample)
	if err != nil {
		return err
	}
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("open midi file: %w", err)
	}
	defer f.Close()

	e, err := beatloop.New(raw, c.Tempo, c.Pitch, append(c.EngineOptions(), beatloop.WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer e.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	router := midiin.NewRouter(e, midiin.WithChannel(c.MIDIChannel), midiin.WithLogger(logger))
	played, err := midiin.PlayFile(sigCtx, f, router)
	logger.Info("midi file done", "file", path, "notes", played)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	// let the last notes ring out
	select {
	case <-time.After(noteTail):
	case <-sigCtx.Done():
	}
	return nil
}

const noteTail = 2 * time.Second
