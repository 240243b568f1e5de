package beatloop

import (
	"errors"
	"fmt"
	"math"

	"github.com/cbegin/beatloop-go/internal/buffer"
	"github.com/cbegin/beatloop-go/internal/decode"
	"github.com/cbegin/beatloop-go/internal/transport"
)

var (
	// ErrClockUnavailable means the audio clock could not be resumed. Every
	// playback call fails with it until a later resume succeeds.
	ErrClockUnavailable = errors.New("audio clock unavailable")
	// ErrDecode is returned by New and Reload for unreadable sample data.
	ErrDecode = decode.ErrDecode
	// ErrMissingBuffer means the requested buffer variant does not exist,
	// e.g. reverse playback when the reversed buffer could not be derived.
	ErrMissingBuffer = buffer.ErrMissingBuffer
	// ErrInvalidParameter rejects a non-positive tempo, pitch, rate or
	// multiplier. The previous value is kept.
	ErrInvalidParameter = transport.ErrInvalidParameter
)

func positive(name string, v float64) error {
	if v > 0 && !math.IsInf(v, 1) {
		return nil
	}
	return fmt.Errorf("%w: %s %v", ErrInvalidParameter, name, v)
}
