package audio

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Microphone reads the default input device through PortAudio.
type Microphone struct {
	sampleRate int
	frameSize  int
}

// NewMicrophone initializes PortAudio; Close terminates it.
func NewMicrophone(sampleRate, frameSize int) (*Microphone, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &Microphone{sampleRate: sampleRate, frameSize: frameSize}, nil
}

func (m *Microphone) Close() error {
	return portaudio.Terminate()
}

func (m *Microphone) Open(context.Context) (Stream, error) {
	buf := make([]float32, m.frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(buf), buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}
	return &micStream{stream: stream, buf: buf}, nil
}

type micStream struct {
	stream *portaudio.Stream
	buf    []float32
}

func (s *micStream) Read(frame []float32) error {
	if err := s.stream.Read(); err != nil {
		return err
	}
	copy(frame, s.buf)
	return nil
}

func (s *micStream) Close() error {
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return err
	}
	return s.stream.Close()
}
