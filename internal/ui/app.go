// Package ui implements the terminal front end: the main speech window, the
// credential form and the prompt/notice adapters the controller talks to.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loqalabs/loqa-polly/internal/controller"
	"github.com/loqalabs/loqa-polly/internal/tts"
)

const (
	focusText = iota
	focusVoice
	focusSpeed
	focusSlots
)

const (
	speedStep    = 10
	tickInterval = 500 * time.Millisecond
)

// Actions is the controller surface the window drives.
type Actions interface {
	Play(ctx context.Context, req tts.Request) error
	UpdateCredentials(ctx context.Context) error
	Pause()
	Resume()
	Stop()
	Paused() bool
	State() controller.State
}

type keyMap struct {
	Play        key.Binding
	Credentials key.Binding
	Paste       key.Binding
	Clear       key.Binding
	PastePlay   key.Binding
	ToggleSSML  key.Binding
	Pause       key.Binding
	Stop        key.Binding
	Focus       key.Binding
	Left        key.Binding
	Right       key.Binding
	Quit        key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.PastePlay, k.Pause, k.Stop, k.Credentials, k.Focus, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.PastePlay, k.Paste, k.Clear},
		{k.Pause, k.Stop, k.ToggleSSML, k.Credentials},
		{k.Focus, k.Left, k.Right, k.Quit},
	}
}

var defaultKeys = keyMap{
	Play:        key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "play")),
	Credentials: key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("ctrl+k", "credentials")),
	Paste:       key.NewBinding(key.WithKeys("ctrl+v"), key.WithHelp("ctrl+v", "paste")),
	Clear:       key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear")),
	PastePlay:   key.NewBinding(key.WithKeys("ctrl+g"), key.WithHelp("ctrl+g", "clear+paste+play")),
	ToggleSSML:  key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "ssml")),
	Pause:       key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "pause/resume")),
	Stop:        key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "stop")),
	Focus:       key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "focus")),
	Left:        key.NewBinding(key.WithKeys("left"), key.WithHelp("←", "prev/slower")),
	Right:       key.NewBinding(key.WithKeys("right"), key.WithHelp("→", "next/faster")),
	Quit:        key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

type opDoneMsg struct {
	action string
	err    error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// AppOptions seeds the window controls.
type AppOptions struct {
	Voice     tts.Voice
	Speed     int
	SSML      bool
	Clipboard ClipboardReader
}

// App is the main speech window.
type App struct {
	ctx     context.Context
	cancel  context.CancelFunc
	actions Actions

	text     textarea.Model
	voices   []tts.Voice
	voiceIdx int
	speed    int
	ssml     bool
	focus    int

	busy   bool
	status string

	formOpen  bool
	form      FormModel
	formReply chan controller.PromptResult

	notice      *controller.Notice
	noticeReply chan struct{}

	keys      keyMap
	help      help.Model
	clipboard ClipboardReader

	width    int
	height   int
	quitting bool
}

func NewApp(ctx context.Context, actions Actions, opts AppOptions) App {
	ctx, cancel := context.WithCancel(ctx)

	ta := textarea.New()
	ta.Placeholder = "Type or paste text to speak..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(8)
	ta.SetWidth(72)
	ta.Focus()

	voices := tts.Voices()
	idx := 0
	for i, v := range voices {
		if v == opts.Voice {
			idx = i
		}
	}
	speed := opts.Speed
	if speed == 0 {
		speed = tts.DefaultSpeed
	}
	read := opts.Clipboard
	if read == nil {
		read = SystemClipboard
	}

	return App{
		ctx:       ctx,
		cancel:    cancel,
		actions:   actions,
		text:      ta,
		voices:    voices,
		voiceIdx:  idx,
		speed:     tts.ClampSpeed(speed),
		ssml:      opts.SSML,
		keys:      defaultKeys,
		help:      help.New(),
		clipboard: read,
		status:    "Ready.",
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, tick())
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.text.SetWidth(max(20, min(msg.Width-4, 100)))
		a.help.Width = msg.Width
		return a, nil

	case tickMsg:
		return a, tick()

	case promptRequestMsg:
		a.formOpen = true
		a.form = NewFormModel(msg.initialKey, msg.initialSecret)
		a.formReply = msg.reply
		return a, a.form.Init()

	case noticeRequestMsg:
		n := msg.notice
		a.notice = &n
		a.noticeReply = msg.reply
		return a, nil

	case opDoneMsg:
		a.busy = false
		a.status = describeDone(msg)
		return a, nil

	case tea.KeyMsg:
		if key.Matches(msg, a.keys.Quit) {
			a.quitting = true
			a.cancel()
			return a, tea.Quit
		}
		if a.formOpen {
			return a.updateForm(msg)
		}
		if a.notice != nil {
			switch msg.String() {
			case "enter", "esc", " ":
				a.dismissNotice()
			}
			return a, nil
		}
		if m, cmd, handled := a.handleKey(msg); handled {
			return m, cmd
		}
	}

	if a.formOpen {
		return a.updateForm(msg)
	}
	if a.focus == focusText {
		var cmd tea.Cmd
		a.text, cmd = a.text.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a App) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	a.form, cmd = a.form.Update(msg)
	if a.form.Done() {
		a.formOpen = false
		if a.formReply != nil {
			a.formReply <- a.form.Result()
			a.formReply = nil
		}
		return a, nil
	}
	return a, cmd
}

func (a *App) dismissNotice() {
	a.notice = nil
	if a.noticeReply != nil {
		close(a.noticeReply)
		a.noticeReply = nil
	}
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, a.keys.Play):
		m, cmd := a.play()
		return m, cmd, true

	case key.Matches(msg, a.keys.Credentials):
		if a.busy {
			return a, nil, true
		}
		a.busy = true
		a.status = "Updating credentials..."
		ctx, actions := a.ctx, a.actions
		return a, func() tea.Msg {
			return opDoneMsg{action: "credentials", err: actions.UpdateCredentials(ctx)}
		}, true

	case key.Matches(msg, a.keys.Paste):
		text, err := PasteText(a.clipboard)
		if err != nil {
			a.warnClipboard()
			return a, nil, true
		}
		a.text.InsertString(text)
		return a, nil, true

	case key.Matches(msg, a.keys.Clear):
		a.text.Reset()
		return a, nil, true

	case key.Matches(msg, a.keys.PastePlay):
		text, err := PasteText(a.clipboard)
		if err != nil {
			a.warnClipboard()
			return a, nil, true
		}
		a.text.Reset()
		a.text.SetValue(text)
		m, cmd := a.play()
		return m, cmd, true

	case key.Matches(msg, a.keys.ToggleSSML):
		a.ssml = !a.ssml
		return a, nil, true

	case key.Matches(msg, a.keys.Pause):
		if a.actions.Paused() {
			a.actions.Resume()
			a.status = "Resumed."
		} else {
			a.actions.Pause()
			a.status = "Paused."
		}
		return a, nil, true

	case key.Matches(msg, a.keys.Stop):
		a.actions.Stop()
		a.status = "Stopped."
		return a, nil, true

	case key.Matches(msg, a.keys.Focus):
		a.focus = (a.focus + 1) % focusSlots
		if a.focus == focusText {
			return a, a.text.Focus(), true
		}
		a.text.Blur()
		return a, nil, true

	case a.focus != focusText && key.Matches(msg, a.keys.Left):
		a.adjust(-1)
		return a, nil, true

	case a.focus != focusText && key.Matches(msg, a.keys.Right):
		a.adjust(1)
		return a, nil, true
	}
	return a, nil, false
}

func (a *App) adjust(dir int) {
	switch a.focus {
	case focusVoice:
		a.voiceIdx = (a.voiceIdx + dir + len(a.voices)) % len(a.voices)
	case focusSpeed:
		a.speed = tts.ClampSpeed(a.speed + dir*speedStep)
	}
}

func (a *App) warnClipboard() {
	a.notice = &controller.Notice{Level: controller.LevelWarning, Title: "Empty Clipboard", Message: "There is no text to paste from the clipboard."}
	a.noticeReply = nil
}

// Request builds the synthesis request from the current controls.
func (a App) Request() tts.Request {
	mode := tts.ModeText
	if a.ssml {
		mode = tts.ModeSSML
	}
	return tts.Request{
		Text:  a.text.Value(),
		Voice: a.voices[a.voiceIdx],
		Speed: a.speed,
		Mode:  mode,
	}
}

func (a App) play() (tea.Model, tea.Cmd) {
	if a.busy {
		return a, nil
	}
	a.busy = true
	a.status = "Synthesizing..."
	ctx, actions, req := a.ctx, a.actions, a.Request()
	return a, func() tea.Msg {
		return opDoneMsg{action: "play", err: actions.Play(ctx, req)}
	}
}

func describeDone(msg opDoneMsg) string {
	switch {
	case msg.err == nil && msg.action == "play":
		return "Playing."
	case msg.err == nil:
		return "Credentials updated."
	case errors.Is(msg.err, controller.ErrBusy):
		return "Busy, try again."
	case errors.Is(msg.err, controller.ErrCredentialsAbsent), errors.Is(msg.err, controller.ErrCancelled):
		return "Cancelled."
	default:
		return fmt.Sprintf("%s failed: %s", msg.action, tts.KindOf(msg.err))
	}
}

func (a App) View() string {
	if a.quitting {
		return ""
	}
	if a.formOpen {
		return a.overlay(a.form.View())
	}
	if a.notice != nil {
		body := lipgloss.JoinVertical(lipgloss.Left,
			levelStyle(a.notice.Level.String()).Render(a.notice.Title),
			"",
			a.notice.Message,
			"",
			statusStyle.Render("enter to dismiss"),
		)
		return a.overlay(modalStyle.Render(body))
	}

	textPanel := panelStyle
	if a.focus == focusText {
		textPanel = focusedPanelStyle
	}

	var voices []string
	for i, v := range a.voices {
		if i == a.voiceIdx {
			voices = append(voices, selectedStyle.Render("["+string(v)+"]"))
		} else {
			voices = append(voices, valueStyle.Render(string(v)))
		}
	}
	voiceLabel, speedLabel := labelStyle.Render("Voice:"), labelStyle.Render("Speed:")
	if a.focus == focusVoice {
		voiceLabel = selectedStyle.Render("Voice:")
	}
	if a.focus == focusSpeed {
		speedLabel = selectedStyle.Render("Speed:")
	}
	ssml := "off"
	if a.ssml {
		ssml = "on (rate " + tts.RatePercent(a.speed) + ")"
	}

	lines := []string{
		titleStyle.Render("Loqa Polly"),
		textPanel.Render(a.text.View()),
		voiceLabel + " " + strings.Join(voices, " "),
		speedLabel + " " + valueStyle.Render(fmt.Sprintf("%d", a.speed)) + "  " + labelStyle.Render("SSML:") + " " + valueStyle.Render(ssml),
		statusStyle.Render(fmt.Sprintf("%s  [%s]", a.status, a.actions.State())),
		a.help.View(a.keys),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (a App) overlay(content string) string {
	if a.width == 0 || a.height == 0 {
		return content
	}
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, content)
}

// Run starts the window, wires bridge to it and blocks until the user quits.
func Run(ctx context.Context, app App, bridge *ProgramBridge, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(app, opts...)
	bridge.Attach(p)
	defer app.cancel()
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
