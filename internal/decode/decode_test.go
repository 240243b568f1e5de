package decode

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/cbegin/beatloop-go/internal/buffer"
)

func encodeWAV(t *testing.T, nch int, sampleRate int, data []int) []byte {
	t.Helper()
	fs := afero.NewMemMapFs()
	f, err := fs.Create("/tone.wav")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, nch, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: nch, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	raw, err := afero.ReadFile(fs, "/tone.wav")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	return raw
}

// appendSampler adds a smpl chunk with the given unity note and loop count.
func appendSampler(raw []byte, unity uint32, loops int) []byte {
	body := make([]byte, 36+24*loops)
	binary.LittleEndian.PutUint32(body[12:], unity)
	binary.LittleEndian.PutUint32(body[28:], uint32(loops))
	for i := 0; i < loops; i++ {
		off := 36 + 24*i
		binary.LittleEndian.PutUint32(body[off+12:], 0)   // start
		binary.LittleEndian.PutUint32(body[off+16:], 100) // end
	}
	chunk := make([]byte, 8, 8+len(body))
	copy(chunk, "smpl")
	binary.LittleEndian.PutUint32(chunk[4:], uint32(len(body)))
	chunk = append(chunk, body...)
	out := append(append([]byte(nil), raw...), chunk...)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(out)-8))
	return out
}

func TestDecodeStereoWAV(t *testing.T) {
	const frames = 480
	data := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		data[i*2] = 16384
		data[i*2+1] = -16384
	}
	res, err := Decode(encodeWAV(t, 2, 48000, data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := res.Buffer
	if b.NumChannels() != 2 || b.Frames() != frames || b.SampleRate != 48000 {
		t.Fatalf("got %d ch, %d frames, %d Hz", b.NumChannels(), b.Frames(), b.SampleRate)
	}
	if math.Abs(float64(b.Channels[0][10])-0.5) > 1e-6 || math.Abs(float64(b.Channels[1][10])+0.5) > 1e-6 {
		t.Fatalf("unexpected sample values %v %v", b.Channels[0][10], b.Channels[1][10])
	}
	if res.Mode != buffer.OneShot || res.UnityNote != -1 {
		t.Fatalf("plain WAV should be oneshot without unity note, got %v %d", res.Mode, res.UnityNote)
	}
	if res.Format != "wav" {
		t.Fatalf("format = %q, want wav", res.Format)
	}
}

func TestDecodeSamplerMetadata(t *testing.T) {
	raw := encodeWAV(t, 1, 44100, make([]int, 441))
	res, err := Decode(appendSampler(raw, 60, 1))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Mode != buffer.Loop {
		t.Fatalf("mode = %v, want loop", res.Mode)
	}
	if res.UnityNote != 60 {
		t.Fatalf("unity note = %d, want 60", res.UnityNote)
	}
}

func TestDecodeUnityNoteRange(t *testing.T) {
	raw := encodeWAV(t, 1, 44100, make([]int, 441))
	for _, tc := range []struct {
		unity uint32
		want  int
	}{
		{0, 0},
		{127, 127},
		{128, -1},
		{200, -1},
	} {
		res, err := Decode(appendSampler(raw, tc.unity, 0))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if res.UnityNote != tc.want {
			t.Fatalf("unity %d decoded as %d, want %d", tc.unity, res.UnityNote, tc.want)
		}
		if res.Mode != buffer.OneShot {
			t.Fatalf("sampler chunk without loops should stay oneshot, got %v", res.Mode)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("definitely not audio"), {0x52, 0x49, 0x46, 0x46}} {
		if _, err := Decode(raw); !errors.Is(err, ErrDecode) {
			t.Fatalf("Decode(%q) err = %v, want ErrDecode", raw, err)
		}
	}
}
