package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loqalabs/loqa-polly/internal/controller"
)

type promptRequestMsg struct {
	initialKey    string
	initialSecret string
	reply         chan controller.PromptResult
}

type noticeRequestMsg struct {
	notice controller.Notice
	reply  chan struct{}
}

// ProgramBridge shows prompts and notices as modals inside a running App.
// Calls block the caller's goroutine until the modal is dismissed or ctx
// ends, so they must not be made from the program's Update loop.
type ProgramBridge struct {
	mu sync.Mutex
	p  *tea.Program
}

// Attach binds the bridge to the program hosting the App.
func (b *ProgramBridge) Attach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.p = p
}

func (b *ProgramBridge) program() *tea.Program {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.p
}

func (b *ProgramBridge) Prompt(ctx context.Context, initialKey, initialSecret string) (controller.PromptResult, error) {
	p := b.program()
	if p == nil {
		return controller.PromptResult{}, nil
	}
	reply := make(chan controller.PromptResult, 1)
	p.Send(promptRequestMsg{initialKey: initialKey, initialSecret: initialSecret, reply: reply})
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return controller.PromptResult{}, ctx.Err()
	}
}

func (b *ProgramBridge) Notify(ctx context.Context, n controller.Notice) {
	p := b.program()
	if p == nil {
		return
	}
	reply := make(chan struct{})
	p.Send(noticeRequestMsg{notice: n, reply: reply})
	select {
	case <-reply:
	case <-ctx.Done():
	}
}
