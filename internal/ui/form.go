package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loqalabs/loqa-polly/internal/controller"
)

const (
	fieldKey = iota
	fieldSecret
	buttonOK
	buttonCancel
	formSlots
)

type formKeyMap struct {
	Next   key.Binding
	Prev   key.Binding
	Submit key.Binding
	Cancel key.Binding
}

var formKeys = formKeyMap{
	Next:   key.NewBinding(key.WithKeys("tab", "down")),
	Prev:   key.NewBinding(key.WithKeys("shift+tab", "up")),
	Submit: key.NewBinding(key.WithKeys("enter")),
	Cancel: key.NewBinding(key.WithKeys("esc", "ctrl+c")),
}

// FormModel is the credential form: an access key, a masked secret and
// OK/Cancel. OK submits only when both fields are filled.
type FormModel struct {
	key    textinput.Model
	secret textinput.Model
	focus  int
	done   bool
	result controller.PromptResult
	hint   string
}

func NewFormModel(initialKey, initialSecret string) FormModel {
	k := textinput.New()
	k.Placeholder = "AWS access key ID"
	k.Prompt = "Access key: "
	k.CharLimit = 128
	k.Width = 40
	k.SetValue(initialKey)
	k.Focus()

	s := textinput.New()
	s.Placeholder = "AWS secret access key"
	s.Prompt = "Secret:     "
	s.CharLimit = 256
	s.Width = 40
	s.EchoMode = textinput.EchoPassword
	s.EchoCharacter = '•'
	s.SetValue(initialSecret)

	return FormModel{key: k, secret: s}
}

// Done reports whether the form was submitted or cancelled.
func (f FormModel) Done() bool { return f.done }

// Result is valid once Done is true.
func (f FormModel) Result() controller.PromptResult { return f.result }

func (f FormModel) Init() tea.Cmd { return textinput.Blink }

func (f FormModel) Update(msg tea.Msg) (FormModel, tea.Cmd) {
	if f.done {
		return f, nil
	}
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, formKeys.Cancel):
			f.finish(controller.PromptResult{Confirmed: false})
			return f, nil
		case key.Matches(msg, formKeys.Next):
			return f, f.setFocus((f.focus + 1) % formSlots)
		case key.Matches(msg, formKeys.Prev):
			return f, f.setFocus((f.focus + formSlots - 1) % formSlots)
		case key.Matches(msg, formKeys.Submit):
			if f.focus == buttonCancel {
				f.finish(controller.PromptResult{Confirmed: false})
				return f, nil
			}
			f.submit()
			return f, nil
		}
	}

	var cmd tea.Cmd
	switch f.focus {
	case fieldKey:
		f.key, cmd = f.key.Update(msg)
	case fieldSecret:
		f.secret, cmd = f.secret.Update(msg)
	}
	return f, cmd
}

func (f *FormModel) submit() {
	k := strings.TrimSpace(f.key.Value())
	s := strings.TrimSpace(f.secret.Value())
	if k == "" || s == "" {
		f.hint = "Both fields are required."
		return
	}
	f.finish(controller.PromptResult{Confirmed: true, Key: k, Secret: s})
}

func (f *FormModel) finish(r controller.PromptResult) {
	f.done = true
	f.result = r
	f.key.Blur()
	f.secret.Blur()
}

func (f *FormModel) setFocus(slot int) tea.Cmd {
	f.focus = slot
	f.key.Blur()
	f.secret.Blur()
	switch slot {
	case fieldKey:
		return f.key.Focus()
	case fieldSecret:
		return f.secret.Focus()
	}
	return nil
}

func (f FormModel) View() string {
	ok, cancel := buttonStyle, buttonStyle
	if f.focus == buttonOK {
		ok = activeButtonStyle
	}
	if f.focus == buttonCancel {
		cancel = activeButtonStyle
	}
	parts := []string{
		titleStyle.Render("Update AWS Credentials"),
		"",
		f.key.View(),
		f.secret.View(),
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, ok.Render("OK"), "  ", cancel.Render("Cancel")),
	}
	if f.hint != "" {
		parts = append(parts, "", errorStyle.Render(f.hint))
	}
	return modalStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// formProgram runs a FormModel as its own program and quits on dismissal.
type formProgram struct {
	form FormModel
}

func (p formProgram) Init() tea.Cmd { return p.form.Init() }

func (p formProgram) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	p.form, cmd = p.form.Update(msg)
	if p.form.Done() {
		return p, tea.Quit
	}
	return p, cmd
}

func (p formProgram) View() string {
	if p.form.Done() {
		return ""
	}
	return p.form.View() + "\n"
}
