// Package speaker decodes the mp3 artifact and plays it on the default
// output device.
package speaker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/hajimehoshi/go-mp3"

	"github.com/loqalabs/loqa-polly/internal/playback"
)

// go-mp3 always decodes to interleaved 16-bit little-endian stereo.
const channels = 2

// Output opens PortAudio sessions.
type Output struct {
	framesPerBuffer int
	logger          *slog.Logger
}

func New(framesPerBuffer int, log *slog.Logger) *Output {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &Output{
		framesPerBuffer: framesPerBuffer,
		logger:          log.With(slog.String("component", "portaudio")),
	}
}

func (o *Output) Open(path string) (playback.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	buffer := make([]int16, o.framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(dec.SampleRate()), o.framesPerBuffer, &buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	return &session{
		dec:    dec,
		stream: stream,
		buffer: buffer,
		ctrl:   make(chan command, 4),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: o.logger,
	}, nil
}

type command int

const (
	cmdPause command = iota
	cmdResume
)

type session struct {
	dec      *mp3.Decoder
	stream   *portaudio.Stream
	buffer   []int16
	ctrl     chan command
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	logger   *slog.Logger
}

func (s *session) Start() error {
	if err := s.stream.Start(); err != nil {
		s.release()
		close(s.done)
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	go s.run()
	return nil
}

func (s *session) Pause()  { s.send(cmdPause) }
func (s *session) Resume() { s.send(cmdResume) }

func (s *session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) send(c command) {
	select {
	case s.ctrl <- c:
	default:
	}
}

func (s *session) release() {
	if err := s.stream.Close(); err != nil {
		s.logger.Warn("close stream failed", slog.String("error", err.Error()))
	}
	portaudio.Terminate()
}

func (s *session) run() {
	defer close(s.done)
	defer s.release()

	raw := make([]byte, len(s.buffer)*2)
	for {
		select {
		case <-s.stop:
			_ = s.stream.Abort()
			return
		case c := <-s.ctrl:
			if c == cmdPause && !s.waitResume() {
				return
			}
		default:
		}

		n, readErr := io.ReadFull(s.dec, raw)
		if n == 0 {
			break
		}
		for i := range s.buffer {
			if 2*i+1 < n {
				s.buffer[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
			} else {
				s.buffer[i] = 0
			}
		}
		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			s.logger.Warn("failed to write to stream", slog.String("error", err.Error()))
			return
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
				s.logger.Warn("mp3 decode failed", slog.String("error", readErr.Error()))
			}
			break
		}
	}
	if err := s.stream.Stop(); err != nil {
		s.logger.Warn("stop stream failed", slog.String("error", err.Error()))
	}
}

// waitResume stops the stream until resumed. It returns false when the
// session was stopped while paused.
func (s *session) waitResume() bool {
	if err := s.stream.Stop(); err != nil {
		s.logger.Warn("pause stream failed", slog.String("error", err.Error()))
	}
	for {
		select {
		case <-s.stop:
			return false
		case c := <-s.ctrl:
			if c != cmdResume {
				continue
			}
			if err := s.stream.Start(); err != nil {
				s.logger.Warn("resume stream failed", slog.String("error", err.Error()))
				return false
			}
			return true
		}
	}
}
