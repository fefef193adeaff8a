package playback

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

const filePlaceholder = "{file}"

// ExecOutput plays the artifact through an external player command.
type ExecOutput struct {
	args   []string
	logger *slog.Logger
}

// NewExecOutput parses command; a {file} argument is replaced by the artifact
// path, otherwise the path is appended.
func NewExecOutput(command string, log *slog.Logger) (*ExecOutput, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playback command empty")
	}
	return &ExecOutput{args: args, logger: log.With(slog.String("component", "exec-player"))}, nil
}

func (o *ExecOutput) Open(path string) (Session, error) {
	args := expandArgs(o.args, path)
	bin, err := exec.LookPath(args[0])
	if err != nil {
		return nil, fmt.Errorf("player %q not found: %w", args[0], err)
	}
	return &execSession{
		cmd:    exec.Command(bin, args[1:]...),
		done:   make(chan struct{}),
		logger: o.logger,
	}, nil
}

func expandArgs(template []string, path string) []string {
	args := make([]string, 0, len(template)+1)
	replaced := false
	for _, a := range template {
		if strings.Contains(a, filePlaceholder) {
			a = strings.ReplaceAll(a, filePlaceholder, path)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, path)
	}
	return args
}

type execSession struct {
	cmd    *exec.Cmd
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (s *execSession) Start() error {
	if err := s.cmd.Start(); err != nil {
		close(s.done)
		return fmt.Errorf("start player: %w", err)
	}
	go func() {
		defer close(s.done)
		if err := s.cmd.Wait(); err != nil {
			s.logger.Debug("player exited", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (s *execSession) Pause() {
	if s.cmd.Process == nil {
		return
	}
	if err := pauseProcess(s.cmd.Process); err != nil {
		s.logger.Warn("pause failed", slog.String("error", err.Error()))
	}
}

func (s *execSession) Resume() {
	if s.cmd.Process == nil {
		return
	}
	if err := resumeProcess(s.cmd.Process); err != nil {
		s.logger.Warn("resume failed", slog.String("error", err.Error()))
	}
}

func (s *execSession) Stop() {
	s.once.Do(func() {
		if s.cmd.Process == nil || !active(s) {
			return
		}
		_ = s.cmd.Process.Kill()
	})
}

func (s *execSession) Done() <-chan struct{} { return s.done }

// NopOutput writes nothing to a device; sessions finish immediately.
type NopOutput struct{}

func (NopOutput) Open(string) (Session, error) {
	done := make(chan struct{})
	close(done)
	return nopSession{done: done}, nil
}

type nopSession struct{ done chan struct{} }

func (nopSession) Start() error            { return nil }
func (nopSession) Pause()                  {}
func (nopSession) Resume()                 {}
func (nopSession) Stop()                   {}
func (s nopSession) Done() <-chan struct{} { return s.done }
