package buffer

import "fmt"

// Store owns the forward buffer and, when derivation succeeded, its reversed
// twin.
type Store struct {
	forward    *SampleBuffer
	reversed   *SampleBuffer
	reverseErr error
}

// NewStore derives the reversed buffer best-effort. A failed derivation is
// kept in ReverseErr and only disables reverse playback.
func NewStore(forward *SampleBuffer) (*Store, error) {
	if forward == nil || forward.Frames() == 0 {
		return nil, ErrEmpty
	}
	s := &Store{forward: forward}
	s.reversed, s.reverseErr = forward.Reverse()
	return s, nil
}

// Current returns the variant selected by reversed.
func (s *Store) Current(reversed bool) (*SampleBuffer, error) {
	if !reversed {
		if s.forward == nil {
			return nil, fmt.Errorf("forward: %w", ErrMissingBuffer)
		}
		return s.forward, nil
	}
	if s.reversed == nil {
		if s.reverseErr != nil {
			return nil, fmt.Errorf("reversed: %w (%v)", ErrMissingBuffer, s.reverseErr)
		}
		return nil, fmt.Errorf("reversed: %w", ErrMissingBuffer)
	}
	return s.reversed, nil
}

func (s *Store) HasReversed() bool { return s.reversed != nil }

func (s *Store) ReverseErr() error { return s.reverseErr }

func (s *Store) Forward() *SampleBuffer { return s.forward }
