// Package decode turns encoded audio files into SampleBuffers.
//
// WAV is read with go-audio/wav so the native channel count and sampler
// metadata survive; MP3 and Ogg Vorbis go through ebiten's decoders, which
// always yield interleaved float32 stereo.
package decode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
	"github.com/h2non/filetype"
	"github.com/hajimehoshi/ebiten/v2/audio/mp3"
	"github.com/hajimehoshi/ebiten/v2/audio/vorbis"
	ebitenwav "github.com/hajimehoshi/ebiten/v2/audio/wav"

	"github.com/cbegin/beatloop-go/internal/buffer"
)

var ErrDecode = errors.New("decode failed")

const wavFormatFloat = 3

// Result is a decoded sample plus whatever the container told us about it.
type Result struct {
	Buffer *buffer.SampleBuffer
	Format string
	// Mode is Loop when the file declares sampler loops.
	Mode buffer.PlaybackMode
	// UnityNote is the MIDI note recorded at native rate, or -1.
	UnityNote int
}

// Decode sniffs raw and dispatches to the matching decoder.
func Decode(raw []byte) (Result, error) {
	if len(raw) == 0 {
		return Result{}, fmt.Errorf("%w: empty input", ErrDecode)
	}
	kind, err := filetype.Match(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var res Result
	switch kind.Extension {
	case "wav":
		res, err = decodeWAV(raw)
	case "mp3":
		res, err = decodeStereoF32(raw, "mp3", func(r io.Reader) (f32Stream, error) { return mp3.DecodeF32(r) })
	case "ogg":
		res, err = decodeStereoF32(raw, "ogg", func(r io.Reader) (f32Stream, error) { return vorbis.DecodeF32(r) })
	default:
		return Result{}, fmt.Errorf("%w: unsupported format %q", ErrDecode, kind.Extension)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrDecode, kind.Extension, err)
	}
	return res, nil
}

func decodeWAV(raw []byte) (Result, error) {
	d := wav.NewDecoder(bytes.NewReader(raw))
	if !d.IsValidFile() {
		return Result{}, errors.New("invalid WAV file")
	}
	if d.WavAudioFormat == wavFormatFloat {
		return decodeStereoF32(raw, "wav", func(r io.Reader) (f32Stream, error) { return ebitenwav.DecodeF32(r) })
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return Result{}, err
	}
	nch := int(d.NumChans)
	bitDepth := int(d.BitDepth)
	if nch <= 0 || bitDepth <= 0 {
		return Result{}, fmt.Errorf("bad WAV header: %d channels, %d bits", nch, bitDepth)
	}
	frames := len(pcm.Data) / nch
	scale := float32(math.Pow(2, float64(bitDepth-1)))
	channels := make([][]float32, nch)
	for c := range channels {
		channels[c] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < nch; c++ {
			v := pcm.Data[f*nch+c]
			if bitDepth == 8 {
				// 8-bit WAV is unsigned.
				v -= 128
			}
			channels[c][f] = float32(v) / scale
		}
	}
	buf, err := buffer.New(channels, int(d.SampleRate))
	if err != nil {
		return Result{}, err
	}
	res := Result{Buffer: buf, Format: "wav", Mode: buffer.OneShot, UnityNote: -1}

	// Metadata needs a full pass over the file, so use a fresh reader.
	md := wav.NewDecoder(bytes.NewReader(raw))
	md.ReadMetadata()
	if md.Err() == nil && md.Metadata != nil && md.Metadata.SamplerInfo != nil {
		si := md.Metadata.SamplerInfo
		if len(si.Loops) > 0 {
			res.Mode = buffer.Loop
		}
		if si.MIDIUnityNote < 128 {
			res.UnityNote = int(si.MIDIUnityNote)
		}
	}
	return res, nil
}

type f32Stream interface {
	io.Reader
	SampleRate() int
}

func decodeStereoF32(raw []byte, format string, open func(io.Reader) (f32Stream, error)) (Result, error) {
	s, err := open(bytes.NewReader(raw))
	if err != nil {
		return Result{}, err
	}
	data, err := io.ReadAll(s)
	if err != nil {
		return Result{}, err
	}
	frames := len(data) / 8
	l := make([]float32, frames)
	r := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8:]))
		r[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8+4:]))
	}
	buf, err := buffer.New([][]float32{l, r}, s.SampleRate())
	if err != nil {
		return Result{}, err
	}
	return Result{Buffer: buf, Format: format, Mode: buffer.OneShot, UnityNote: -1}, nil
}
