// Package audioconv decodes audio files into mono float32 PCM at a fixed
// sample rate, the input format speech recognizers expect.
package audioconv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const DefaultSampleRate = 16000

var ErrUnsupportedFormat = errors.New("unsupported audio format")

type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOgg     Format = "ogg"
)

type Options struct {
	// SampleRate of the output, DefaultSampleRate when zero.
	SampleRate int
	// MaxDuration truncates the output; zero keeps everything.
	MaxDuration time.Duration
}

func (o Options) rate() int {
	if o.SampleRate > 0 {
		return o.SampleRate
	}
	return DefaultSampleRate
}

// pcm is decoded audio before downmixing and resampling.
type pcm struct {
	samples  []float32 // interleaved
	channels int
	rate     int
}

// DecodeFile decodes a wav, mp3, ogg/vorbis or ogg/opus file. The format is
// taken from the file header, falling back to the extension.
func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format, err := Detect(f, path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var p pcm
	switch format {
	case FormatWAV:
		p, err = decodeWAV(f)
	case FormatMP3:
		p, err = decodeMP3(f)
	case FormatOgg:
		p, err = decodeOgg(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s as %s: %w", filepath.Base(path), format, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.normalize(opt), nil
}

// Detect sniffs the container from the first bytes of r and rewinds it.
func Detect(r io.ReadSeeker, name string) (Format, error) {
	var magic [4]byte
	n, _ := io.ReadFull(r, magic[:])
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return FormatUnknown, err
	}

	head := string(magic[:n])
	switch {
	case head == "RIFF":
		return FormatWAV, nil
	case head == "OggS":
		return FormatOgg, nil
	case strings.HasPrefix(head, "ID3"), n >= 2 && magic[0] == 0xFF && magic[1]&0xE0 == 0xE0:
		return FormatMP3, nil
	}

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".wav":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	case ".ogg", ".oga", ".opus":
		return FormatOgg, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

func (p pcm) normalize(opt Options) []float32 {
	x := downmix(p.samples, p.channels)
	x = resampleLinear(x, p.rate, opt.rate())
	if opt.MaxDuration > 0 {
		if limit := int(opt.MaxDuration.Seconds() * float64(opt.rate())); len(x) > limit {
			x = x[:limit]
		}
	}
	return x
}

func decodeWAV(r io.ReadSeeker) (pcm, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return pcm{}, errors.New("invalid wav header")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcm{}, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return pcm{}, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	p := pcm{samples: intsToFloat32(buf.Data, depth), channels: 1, rate: 44100}
	if buf.Format != nil {
		p.channels = max(buf.Format.NumChannels, 1)
		if buf.Format.SampleRate > 0 {
			p.rate = buf.Format.SampleRate
		}
	}
	return p, nil
}

func decodeMP3(r io.Reader) (pcm, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return pcm{}, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return pcm{}, err
	}
	ints := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, ints); err != nil {
		return pcm{}, err
	}
	// go-mp3 always produces 16-bit stereo.
	return pcm{samples: int16sToFloat32(ints), channels: 2, rate: dec.SampleRate()}, nil
}

// decodeOgg tries Vorbis first and falls back to Opus.
func decodeOgg(r io.ReadSeeker) (pcm, error) {
	samples, format, verr := oggvorbis.ReadAll(r)
	if verr == nil && format != nil && format.Channels > 0 && format.SampleRate > 0 {
		return pcm{samples: samples, channels: format.Channels, rate: format.SampleRate}, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return pcm{}, err
	}
	p, oerr := decodeOpus(r)
	if oerr != nil {
		return pcm{}, fmt.Errorf("not vorbis (%v) nor opus (%w)", verr, oerr)
	}
	return p, nil
}

func decodeOpus(r io.ReadSeeker) (pcm, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return pcm{}, err
	}
	defer dec.Destroy()

	channels := max(dec.ChannelCount(), 1)
	buf := make([]int16, 24000*channels) // 0.5s at 48 kHz
	var out []float32
	for {
		n, err := dec.Read(buf) // n counts samples per channel
		if n > 0 {
			out = append(out, int16sToFloat32(buf[:n*channels])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return pcm{}, err
		}
	}
	if len(out) == 0 {
		return pcm{}, errors.New("empty opus stream")
	}
	return pcm{samples: out, channels: channels, rate: 48000}, nil
}

func intsToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(math.Max(-1, math.Min(1, float64(v)*scale)))
	}
	return out
}

func int16sToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

// downmix averages interleaved channels into mono.
func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float64
		for _, s := range in[i*channels : (i+1)*channels] {
			sum += float64(s)
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resampleLinear(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || inRate <= 0 || len(in) == 0 {
		return in
	}
	ratio := float64(outRate) / float64(inRate)
	out := make([]float32, int(math.Ceil(float64(len(in))*ratio)))
	last := len(in) - 1
	for i := range out {
		src := float64(i) / ratio
		i0 := int(src)
		if i0 >= last {
			out[i] = in[last]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}
