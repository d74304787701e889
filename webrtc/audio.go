package webrtc

import (
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
)

// frameDuration is the pacing interval for outbound audio samples.
const frameDuration = 20 * time.Millisecond

// frameBytes is the size of one G.711 u-law frame at 8 kHz for frameDuration.
const frameBytes = 160

// AudioSource produces the outbound audio frames for a conversation.
// NextSample blocks until a frame is available and returns io.EOF when
// the source is exhausted.
type AudioSource interface {
	Start() error
	NextSample() (media.Sample, error)
	Close() error
}

// SilenceSource emits u-law silence frames forever. Useful for sessions
// where the model speaks unprompted or when testing transport plumbing
// without a microphone.
type SilenceSource struct {
	frame []byte
}

func NewSilenceSource() *SilenceSource {
	frame := make([]byte, frameBytes)
	for i := range frame {
		frame[i] = 0xFF // u-law encoded zero amplitude
	}
	return &SilenceSource{frame: frame}
}

func (s *SilenceSource) Start() error { return nil }

func (s *SilenceSource) NextSample() (media.Sample, error) {
	return media.Sample{Data: s.frame, Duration: frameDuration}, nil
}

func (s *SilenceSource) Close() error { return nil }

// FileSource streams a raw G.711 u-law file as paced frames, then reports
// io.EOF. Handy for replaying captured utterances against a live session.
type FileSource struct {
	path string
	f    *os.File
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Start() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *FileSource) NextSample() (media.Sample, error) {
	if s.f == nil {
		return media.Sample{}, io.EOF
	}
	buf := make([]byte, frameBytes)
	n, err := io.ReadFull(s.f, buf)
	if n > 0 {
		return media.Sample{Data: buf[:n], Duration: frameDuration}, nil
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return media.Sample{}, err
}

func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
