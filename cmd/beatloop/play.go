package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/cbegin/beatloop-go"
	"github.com/cbegin/beatloop-go/internal/rate"
)

const helpText = "space: play once  l: loop  r: reverse  +/-: tempo  ]/[: pitch  m: multiplier  0-9: volume  q: quit"

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 150 * time.Millisecond

func play(ctx *cli.Context, fs afero.Fs) error {
	c, err := loadSettings(ctx, fs)
	if err != nil {
		return err
	}
	raw, err := readSample(fs, c.Sample)
	if err != nil {
		return err
	}
	e, err := beatloop.New(raw, c.Tempo, c.Pitch, append(c.EngineOptions(), beatloop.WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer e.Close()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer func() { _ = term.Restore(fd, old) }()
	}
	out := crlfWriter{os.Stdout}
	fmt.Fprintln(out, helpText)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	// The stdin reader cannot be interrupted, so it stays outside the group.
	keys := make(chan byte)
	go readKeys(os.Stdin, keys)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case k, ok := <-keys:
				if !ok {
					return errQuit
				}
				msg, err := handleKey(e, k)
				if errors.Is(err, errQuit) {
					return err
				}
				if err != nil {
					fmt.Fprintf(out, "%c: %v\n", k, err)
				} else if msg != "" {
					fmt.Fprintln(out, msg)
				}
			}
		}
	})
	g.Go(func() error {
		events := e.Watch()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-events:
				logEvent(ev)
			}
		}
	})
	if c.Watch {
		g.Go(func() error { return watchSample(gctx, fs, c.Sample, e) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

var errQuit = errors.New("quit")

func readKeys(r io.Reader, keys chan<- byte) {
	defer close(keys)
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		if n == 1 {
			keys <- buf[0]
		}
	}
}

// controller is the part of the engine the keyboard drives.
type controller interface {
	PlayOnce() error
	StartLoop() error
	StopLoop()
	Looping() bool
	ToggleReverse() error
	Reversed() bool
	SetTempo(bpm float64) error
	Tempo() float64
	SetPitch(rate float64) error
	Pitch() float64
	SetScheduleMultiplier(n int) error
	ScheduleMultiplier() int
	SetVolume(level float64)
}

const maxMultiplier = 4

// handleKey applies one key press and returns a status line. errQuit asks
// the caller to exit.
func handleKey(c controller, k byte) (string, error) {
	switch k {
	case 'q', 'Q', 3: // 3 is ctrl-c in raw mode
		c.StopLoop()
		return "", errQuit
	case ' ':
		return "", c.PlayOnce()
	case 'l', 'L':
		if c.Looping() {
			c.StopLoop()
			return "loop off", nil
		}
		if err := c.StartLoop(); err != nil {
			return "", err
		}
		return fmt.Sprintf("loop on at %.1f bpm", c.Tempo()), nil
	case 'r', 'R':
		if err := c.ToggleReverse(); err != nil {
			return "", err
		}
		if c.Reversed() {
			return "reverse", nil
		}
		return "forward", nil
	case '+', '=':
		return tempoStep(c, 1)
	case '-', '_':
		return tempoStep(c, -1)
	case ']':
		return pitchStep(c, 1)
	case '[':
		return pitchStep(c, -1)
	case 'm', 'M':
		n := c.ScheduleMultiplier()%maxMultiplier + 1
		if err := c.SetScheduleMultiplier(n); err != nil {
			return "", err
		}
		return fmt.Sprintf("beat every %d quarter notes", n), nil
	case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		v := float64(k-'0') / 9
		c.SetVolume(v)
		return fmt.Sprintf("volume %.2f", v), nil
	case 'h', '?':
		return helpText, nil
	}
	return "", nil
}

func tempoStep(c controller, d float64) (string, error) {
	if err := c.SetTempo(c.Tempo() + d); err != nil {
		return "", err
	}
	return fmt.Sprintf("tempo %.1f bpm", c.Tempo()), nil
}

func pitchStep(c controller, semitones float64) (string, error) {
	if err := c.SetPitch(c.Pitch() * rate.SemitoneRatio(semitones)); err != nil {
		return "", err
	}
	return fmt.Sprintf("pitch %.3f", c.Pitch()), nil
}

func logEvent(ev beatloop.Event) {
	switch ev.Kind {
	case beatloop.EventBeat:
		logger.Debug("beat", "index", ev.Beat, "time", ev.Time)
	case beatloop.EventTriggerFailed:
		logger.Warn("trigger failed", "beat", ev.Beat, "err", ev.Err)
	default:
		logger.Debug(ev.Kind.String(), "time", ev.Time)
	}
}

type reloader interface {
	Reload(raw []byte) error
}

// watchSample reloads path whenever it changes. The parent directory is
// watched so that editors which save by rename are still seen.
func watchSample(ctx context.Context, fs afero.Fs, path string, r reloader) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("watching sample", "path", abs)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			debounce.Reset(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "err", err)
		case <-debounce.C:
			raw, err := readSample(fs, path)
			if err != nil {
				logger.Warn("reload skipped", "err", err)
				continue
			}
			if err := r.Reload(raw); err != nil {
				logger.Warn("reload failed; keeping previous sample", "err", err)
				continue
			}
			logger.Info("sample reloaded", "path", abs)
		}
	}
}

// crlfWriter adds the carriage return a raw-mode terminal needs.
type crlfWriter struct{ w io.Writer }

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
