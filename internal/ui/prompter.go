package ui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loqalabs/loqa-polly/internal/controller"
)

// TerminalPrompter shows the credential form as a standalone program. Nil
// In/Out use the process terminal.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p TerminalPrompter) Prompt(ctx context.Context, initialKey, initialSecret string) (controller.PromptResult, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.In != nil {
		opts = append(opts, tea.WithInput(p.In))
	}
	if p.Out != nil {
		opts = append(opts, tea.WithOutput(p.Out))
	}
	final, err := tea.NewProgram(formProgram{form: NewFormModel(initialKey, initialSecret)}, opts...).Run()
	if err != nil {
		return controller.PromptResult{}, fmt.Errorf("run credential form: %w", err)
	}
	fp, ok := final.(formProgram)
	if !ok {
		return controller.PromptResult{}, nil
	}
	return fp.form.Result(), nil
}

// HeadlessPrompter never collects credentials.
type HeadlessPrompter struct{}

func (HeadlessPrompter) Prompt(context.Context, string, string) (controller.PromptResult, error) {
	return controller.PromptResult{Confirmed: false}, nil
}

// ConsoleNotifier prints notices as single styled lines.
type ConsoleNotifier struct {
	Out io.Writer
	mu  sync.Mutex
}

func (n *ConsoleNotifier) Notify(_ context.Context, nt controller.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.Out, "%s %s\n", levelStyle(nt.Level.String()).Render(nt.Title+":"), nt.Message)
}

// LogNotifier records notices in the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, nt controller.Notice) {
	level := slog.LevelInfo
	switch nt.Level {
	case controller.LevelWarning:
		level = slog.LevelWarn
	case controller.LevelError:
		level = slog.LevelError
	}
	n.Logger.Log(ctx, level, nt.Message, slog.String("title", nt.Title))
}
